// Package reconcile folds the broker deal stream into canonical trade records.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"robot-core/internal/events"
	"robot-core/pkg/broker"
	"robot-core/pkg/db"
)

// Folded is one position reconstructed from its deals. It carries no
// storage identity; Sync assigns ids only when a ledger row is first
// created, so folding the same deal sequence twice is byte-identical.
type Folded struct {
	PositionID string
	Symbol     string
	Direction  broker.Direction
	Volume     float64
	OpenPrice  float64
	OpenTime   time.Time
	ClosePrice float64
	CloseTime  time.Time
	Profit     float64
	Commission float64
	Swap       float64
	RobotID    string
	Closed     bool
	// Incomplete marks a position whose history window missed the opening
	// leg; the open price stays zero rather than being fabricated.
	Incomplete bool
}

type position struct {
	Folded
	hasIn  bool
	hasOut bool
}

// Fold groups deals by position id and folds each group strictly in the
// order the broker history feed delivered them. That order is trusted as
// authoritative; deals are never re-sorted by timestamp, since tie and
// reordering semantics are broker-specific. Results come out in
// first-appearance order of their position, so interleaving with other
// positions' deals does not change any position's totals.
func Fold(deals []broker.Deal) []Folded {
	byPosition := make(map[string]*position)
	var order []string

	for _, deal := range deals {
		pos, ok := byPosition[deal.PositionID]
		if !ok {
			pos = &position{Folded: Folded{PositionID: deal.PositionID, Symbol: deal.Symbol}}
			byPosition[deal.PositionID] = pos
			order = append(order, deal.PositionID)
		}

		switch deal.Entry {
		case broker.DealEntryIn:
			if !pos.hasIn {
				pos.Direction = deal.Direction
				pos.OpenPrice = deal.Price
				pos.OpenTime = deal.Time
				pos.Volume = deal.Volume
				pos.hasIn = true
			} else {
				// Addition to an existing position: volume accumulates,
				// the first entry leg keeps the open price and time.
				pos.Volume += deal.Volume
			}
		case broker.DealEntryOut:
			pos.ClosePrice = deal.Price
			pos.CloseTime = deal.Time
			pos.hasOut = true
		}

		// Every deal contributes to the running totals, whatever its leg.
		pos.Profit += deal.Profit
		pos.Commission += deal.Commission
		pos.Swap += deal.Swap

		if pos.RobotID == "" && deal.RobotID != "" {
			pos.RobotID = deal.RobotID
		}
		if pos.Symbol == "" {
			pos.Symbol = deal.Symbol
		}
	}

	results := make([]Folded, 0, len(order))
	for _, id := range order {
		pos := byPosition[id]
		pos.Closed = pos.hasOut
		pos.Incomplete = pos.hasOut && !pos.hasIn
		results = append(results, pos.Folded)
	}
	return results
}

// Reconciler writes folded positions into the trade ledger.
type Reconciler struct {
	database *db.Database
	bus      *events.Bus
}

// NewReconciler creates a Reconciler.
func NewReconciler(database *db.Database, bus *events.Bus) *Reconciler {
	return &Reconciler{database: database, bus: bus}
}

// Sync folds the deal stream and upserts one trade per position, keyed by
// the broker position id. Rows that already reached CLOSED are left alone,
// so re-running a window after a partial failure cannot double-count.
// Returns how many open and closed trades were written.
func (r *Reconciler) Sync(ctx context.Context, lnk *db.AccountLink, deals []broker.Deal) (open, closed int, err error) {
	folded := Fold(deals)
	q := r.database.Queries()

	for _, f := range folded {
		status := db.TradeStatusOpen
		if f.Closed {
			status = db.TradeStatusClosed
		}
		if f.Incomplete {
			log.Printf("[SYNC] position %s has no opening leg in window; recording incomplete", f.PositionID)
		}

		trade := db.Trade{
			ID:         uuid.NewString(), // kept only when the row is first inserted
			UserID:     lnk.UserID,
			LinkID:     lnk.ID,
			RobotID:    f.RobotID,
			PositionID: f.PositionID,
			Symbol:     f.Symbol,
			Direction:  string(f.Direction),
			Volume:     f.Volume,
			OpenPrice:  f.OpenPrice,
			ClosePrice: f.ClosePrice,
			OpenTime:   f.OpenTime,
			CloseTime:  f.CloseTime,
			Profit:     f.Profit,
			Commission: f.Commission,
			Swap:       f.Swap,
			Incomplete: f.Incomplete,
			Status:     status,
		}
		if err := q.UpsertTrade(ctx, trade); err != nil {
			return open, closed, fmt.Errorf("upsert trade for position %s: %w", f.PositionID, err)
		}
		if f.Closed {
			closed++
		} else {
			open++
		}
	}

	if r.bus != nil && len(folded) > 0 {
		r.bus.Publish(events.EventTradesSynced, events.TradesEvent{UserID: lnk.UserID, Count: len(folded)})
	}
	return open, closed, nil
}
