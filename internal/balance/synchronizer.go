// Package balance provides deadline-bounded, read-through balance sync.
package balance

import (
	"context"
	"log"
	"sync"
	"time"

	"robot-core/internal/events"
	"robot-core/pkg/broker"
	"robot-core/pkg/db"
)

// Snapshot is a balance read result. Source tells the caller whether the
// numbers came from a live fetch or the persisted cache; staleness is
// communicated through LastSync, never through an error.
type Snapshot struct {
	Balance  float64   `json:"balance"`
	Equity   float64   `json:"equity"`
	Source   string    `json:"source"`
	LastSync time.Time `json:"last_sync"`
}

const (
	SourceLive   = "live"
	SourceCached = "cached"
)

// fetchBudget caps how long a detached fetch may run once started, so an
// abandoned fetch cannot pile up behind a wedged bridge.
const fetchBudget = 15 * time.Second

type fetch struct {
	done chan struct{}
	info broker.AccountInfo
	err  error
}

// Synchronizer serves balance reads from the remote API within a hard budget
// and falls back to the persisted cache. Concurrent reads for the same
// account share one in-flight fetch.
type Synchronizer struct {
	gateway  broker.Gateway
	database *db.Database
	bus      *events.Bus

	mu       sync.Mutex
	inflight map[string]*fetch
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(gateway broker.Gateway, database *db.Database, bus *events.Bus) *Synchronizer {
	return &Synchronizer{
		gateway:  gateway,
		database: database,
		bus:      bus,
		inflight: make(map[string]*fetch),
	}
}

// Get returns balance/equity for the link within maxWait. A live result is
// persisted (balance and equity together) before it is returned; on timeout
// or remote error the cached row values are returned with SourceCached.
// A fetch that completes after the deadline is never applied by this call.
func (s *Synchronizer) Get(ctx context.Context, lnk *db.AccountLink, maxWait time.Duration) Snapshot {
	if lnk.RemoteAccountID == "" {
		return s.cached(lnk)
	}

	f := s.startFetch(lnk.RemoteAccountID)

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-f.done:
		if f.err != nil {
			log.Printf("[BALANCE] live fetch failed for link %s, serving cache: %v", lnk.ID, f.err)
			return s.cached(lnk)
		}
		now := time.Now().UTC()
		applied, err := s.database.UpdateLinkBalance(ctx, lnk.ID, f.info.Balance, f.info.Equity, now)
		if err != nil {
			log.Printf("[BALANCE] persist failed for link %s: %v", lnk.ID, err)
		}
		if applied && s.bus != nil {
			s.bus.Publish(events.EventBalanceSynced, events.BalanceEvent{
				UserID:  lnk.UserID,
				Balance: f.info.Balance,
				Equity:  f.info.Equity,
				Source:  SourceLive,
			})
		}
		return Snapshot{Balance: f.info.Balance, Equity: f.info.Equity, Source: SourceLive, LastSync: now}
	case <-timer.C:
		return s.cached(lnk)
	case <-ctx.Done():
		return s.cached(lnk)
	}
}

// startFetch returns the in-flight fetch for an account, creating one if
// needed. The fetch runs detached from any single caller's deadline so that
// one impatient caller cannot cancel the result for the rest; if every
// waiter gives up, the result is simply dropped.
func (s *Synchronizer) startFetch(remoteID string) *fetch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.inflight[remoteID]; ok {
		return f
	}

	f := &fetch{done: make(chan struct{})}
	s.inflight[remoteID] = f

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchBudget)
		defer cancel()

		f.info, f.err = s.gateway.GetAccountInfo(ctx, remoteID)

		s.mu.Lock()
		delete(s.inflight, remoteID)
		s.mu.Unlock()
		close(f.done)
	}()

	return f
}

func (s *Synchronizer) cached(lnk *db.AccountLink) Snapshot {
	return Snapshot{
		Balance:  lnk.Balance,
		Equity:   lnk.Equity,
		Source:   SourceCached,
		LastSync: lnk.LastSync,
	}
}
