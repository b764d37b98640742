// Package robot owns the start/stop/stop-all lifecycle of automated robots.
package robot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"robot-core/internal/audit"
	"robot-core/internal/events"
	"robot-core/internal/link"
	"robot-core/pkg/broker"
	"robot-core/pkg/db"
)

// StartResult reports one start call: what was executed and what failed.
type StartResult struct {
	TradesExecuted int      `json:"trades_executed"`
	Signals        []Signal `json:"signals"`
	Errors         []string `json:"errors"`
}

// StopResult reports one stop call. Close failures are itemized; the disable
// itself is unconditional and never rolled back.
type StopResult struct {
	TradesClosed int      `json:"trades_closed"`
	CloseErrors  []string `json:"close_errors"`
}

// StopAllResult reports a bulk stop across every enabled robot.
type StopAllResult struct {
	RobotsDisabled int      `json:"robots_disabled"`
	TradesClosed   int      `json:"trades_closed"`
	CloseErrors    []string `json:"close_errors"`
}

// Manager sequences local flag writes against broker-side actions.
type Manager struct {
	database  *db.Database
	gateway   broker.Gateway
	linker    *link.Linker
	evaluator Evaluator
	bus       *events.Bus
	auditor   *audit.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(database *db.Database, gateway broker.Gateway, linker *link.Linker, evaluator Evaluator, bus *events.Bus, auditor *audit.Logger) *Manager {
	return &Manager{
		database:  database,
		gateway:   gateway,
		linker:    linker,
		evaluator: evaluator,
		bus:       bus,
		auditor:   auditor,
	}
}

// Start enables the robot and runs one evaluation pass synchronously.
// The flag is written before anything else: a crash mid-call leaves the
// robot enabled for the next scheduled pass, never silently half-started.
// Starting an already-running robot is a state no-op but still evaluates.
func (m *Manager) Start(ctx context.Context, userID, robotID string) (StartResult, error) {
	var result StartResult

	r, err := m.database.GetRobot(ctx, robotID)
	if err != nil {
		return result, err
	}
	if !r.IsActive {
		return result, fmt.Errorf("robot %s is not active", robotID)
	}

	q := m.database.Queries()
	if err := q.SetRobotEnabled(ctx, userID, robotID, true); err != nil {
		return result, fmt.Errorf("enable robot: %w", err)
	}
	m.record(userID, "robot.start", robotID)
	m.publish(events.EventRobotStarted, events.RobotEvent{UserID: userID, RobotID: robotID, Action: "start"})

	lnk, err := m.linker.Prepare(ctx, userID)
	if err != nil {
		// The robot stays enabled; the caller retries once the link is usable.
		return result, err
	}

	cfg, err := q.GetRobotConfig(ctx, userID, robotID)
	if err != nil {
		return result, fmt.Errorf("load robot config: %w", err)
	}

	signals, err := m.evaluator.Evaluate(ctx, *r, *cfg)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("evaluate: %v", err))
		return result, nil
	}
	result.Signals = signals

	for _, sig := range signals {
		if msg := m.execute(ctx, lnk, *cfg, sig); msg != "" {
			result.Errors = append(result.Errors, msg)
			continue
		}
		result.TradesExecuted++
	}
	return result, nil
}

// execute places one signal, re-checking the enabled flag through the store
// immediately before the order so a concurrent stop is always honored.
// Returns an error message for the caller's error list, or "" on success.
func (m *Manager) execute(ctx context.Context, lnk *db.AccountLink, cfg db.RobotConfig, sig Signal) string {
	q := m.database.Queries()

	enabled, err := q.IsRobotEnabled(ctx, cfg.UserID, cfg.RobotID)
	if err != nil {
		return fmt.Sprintf("%s: enabled check: %v", sig.Symbol, err)
	}
	if !enabled {
		return fmt.Sprintf("%s: robot disabled before execution", sig.Symbol)
	}

	if cfg.SymbolFilter != "" && cfg.SymbolFilter != sig.Symbol {
		return fmt.Sprintf("%s: outside symbol filter %s", sig.Symbol, cfg.SymbolFilter)
	}
	if cfg.MaxConcurrentTrades > 0 {
		open, err := q.GetOpenTradesByRobot(ctx, cfg.UserID, cfg.RobotID)
		if err != nil {
			return fmt.Sprintf("%s: open trades check: %v", sig.Symbol, err)
		}
		if len(open) >= cfg.MaxConcurrentTrades {
			return fmt.Sprintf("%s: max concurrent trades (%d) reached", sig.Symbol, cfg.MaxConcurrentTrades)
		}
	}

	order, err := m.gateway.PlaceOrder(ctx, lnk.RemoteAccountID, broker.OrderRequest{
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Volume:    sig.Volume,
		RobotID:   cfg.RobotID,
	})
	if err != nil {
		return fmt.Sprintf("%s: place order: %v", sig.Symbol, err)
	}

	// Record the exposure immediately; the reconciliation pass refines
	// prices and profit from the deal history later.
	trade := db.Trade{
		ID:         uuid.NewString(),
		UserID:     cfg.UserID,
		LinkID:     lnk.ID,
		RobotID:    cfg.RobotID,
		PositionID: order.PositionID,
		Symbol:     sig.Symbol,
		Direction:  string(sig.Direction),
		Volume:     sig.Volume,
		Status:     db.TradeStatusOpen,
	}
	if err := q.UpsertTrade(ctx, trade); err != nil {
		log.Printf("[ROBOT] ledger write failed for position %s: %v", order.PositionID, err)
		return fmt.Sprintf("%s: order placed but ledger write failed: %v", sig.Symbol, err)
	}
	return ""
}

// Stop disables the robot first, then issues one robot-filtered bulk close
// against the broker. The broker is the position source of truth here: a
// position the ledger never recorded (order placed, ledger write failed)
// is still tagged with the robot id remotely and still gets closed.
// The disable is never rolled back; close failures are itemized and leave
// their trades OPEN in the ledger. Stopping an already-stopped robot
// returns zero closes and no error.
func (m *Manager) Stop(ctx context.Context, userID, robotID string) (StopResult, error) {
	var result StopResult

	q := m.database.Queries()
	if err := q.SetRobotEnabled(ctx, userID, robotID, false); err != nil {
		return result, fmt.Errorf("disable robot: %w", err)
	}
	m.record(userID, "robot.stop", robotID)
	m.publish(events.EventRobotStopped, events.RobotEvent{UserID: userID, RobotID: robotID, Action: "stop"})

	lnk, err := m.linker.Prepare(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// No broker account linked: nothing remote to close.
			return result, nil
		}
		result.CloseErrors = append(result.CloseErrors, fmt.Sprintf("prepare link: %v", err))
		return result, nil
	}

	closeRes, err := m.gateway.CloseAllPositions(ctx, lnk.RemoteAccountID, broker.CloseFilter{RobotID: robotID})
	if err != nil {
		result.CloseErrors = append(result.CloseErrors, fmt.Sprintf("close positions: %v", err))
		return result, nil
	}
	result.TradesClosed = closeRes.ClosedCount
	result.CloseErrors = append(result.CloseErrors, closeRes.Errors...)

	if err := m.markRobotLedgerClosed(ctx, userID, robotID, lnk, len(closeRes.Errors) > 0, &result); err != nil {
		result.CloseErrors = append(result.CloseErrors, fmt.Sprintf("ledger update: %v", err))
	}

	if result.TradesClosed > 0 {
		m.publish(events.EventTradesClosed, events.TradesEvent{UserID: userID, Count: result.TradesClosed})
	}
	return result, nil
}

// markRobotLedgerClosed re-aligns the robot's ledger rows after a bulk close.
// On a clean close every row flips at once; after a partial failure only the
// rows whose positions the broker no longer reports open are flipped, so the
// ledger keeps matching broker truth.
func (m *Manager) markRobotLedgerClosed(ctx context.Context, userID, robotID string, lnk *db.AccountLink, partial bool, result *StopResult) error {
	q := m.database.Queries()

	if !partial {
		_, err := q.MarkRobotTradesClosed(ctx, userID, robotID)
		return err
	}

	positions, err := m.gateway.GetOpenPositions(ctx, lnk.RemoteAccountID)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	stillOpen := make(map[string]bool, len(positions))
	for _, p := range positions {
		stillOpen[p.ID] = true
	}

	open, err := q.GetOpenTradesByRobot(ctx, userID, robotID)
	if err != nil {
		return err
	}
	for _, t := range open {
		if stillOpen[t.PositionID] {
			continue
		}
		if _, err := q.MarkTradeClosedByPosition(ctx, userID, t.PositionID); err != nil {
			result.CloseErrors = append(result.CloseErrors, fmt.Sprintf("position %s: mark closed: %v", t.PositionID, err))
		}
	}
	return nil
}

// StopAll disables every enabled robot in one atomic update, then issues a
// single bulk close for all of the user's open positions, then marks all
// OPEN ledger rows CLOSED. The single bulk call avoids racing per-robot
// closes against each other.
func (m *Manager) StopAll(ctx context.Context, userID string) (StopAllResult, error) {
	var result StopAllResult

	q := m.database.Queries()
	disabled, err := q.DisableAllRobotConfigs(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("disable robots: %w", err)
	}
	result.RobotsDisabled = int(disabled)
	m.record(userID, "robot.stop_all", fmt.Sprintf("disabled=%d", disabled))

	lnk, err := m.linker.Prepare(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// No broker account linked: nothing remote to close.
			return result, nil
		}
		result.CloseErrors = append(result.CloseErrors, fmt.Sprintf("prepare link: %v", err))
	}

	if lnk != nil && lnk.RemoteAccountID != "" {
		closeRes, err := m.gateway.CloseAllPositions(ctx, lnk.RemoteAccountID, broker.CloseFilter{})
		if err != nil {
			result.CloseErrors = append(result.CloseErrors, fmt.Sprintf("close all: %v", err))
		}
		result.CloseErrors = append(result.CloseErrors, closeRes.Errors...)
	}

	// The ledger is marked closed even when some remote closes failed; the
	// next reconciliation pass is what re-aligns it with broker truth.
	marked, err := q.MarkAllOpenTradesClosed(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("mark trades closed: %w", err)
	}
	result.TradesClosed = int(marked)

	m.publish(events.EventRobotStopped, events.RobotEvent{UserID: userID, Action: "stop_all"})
	if marked > 0 {
		m.publish(events.EventTradesClosed, events.TradesEvent{UserID: userID, Count: int(marked)})
	}
	return result, nil
}

// RunEvaluationLoop periodically evaluates every enabled robot. Start gives
// the first pass synchronously; this loop is what keeps an enabled robot
// trading afterwards. One failing robot or user never stops the pass.
func (m *Manager) RunEvaluationLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.evaluatePass(ctx)
	}
}

// evaluatePass runs one evaluation over all enabled configs. Each order goes
// through execute, which re-reads the enabled flag from the store, so a robot
// disabled mid-pass places nothing further.
func (m *Manager) evaluatePass(ctx context.Context) {
	configs, err := m.database.ListEnabledRobotConfigs(ctx)
	if err != nil {
		log.Printf("[ROBOT] list enabled configs failed: %v", err)
		return
	}

	links := make(map[string]*db.AccountLink)
	for _, cfg := range configs {
		lnk, ok := links[cfg.UserID]
		if !ok {
			var err error
			lnk, err = m.linker.Prepare(ctx, cfg.UserID)
			if err != nil {
				log.Printf("[ROBOT] pass: link not usable for user %s: %v", cfg.UserID, err)
				links[cfg.UserID] = nil
				continue
			}
			links[cfg.UserID] = lnk
		}
		if lnk == nil {
			continue
		}

		r, err := m.database.GetRobot(ctx, cfg.RobotID)
		if err != nil || !r.IsActive {
			continue
		}

		signals, err := m.evaluator.Evaluate(ctx, *r, cfg)
		if err != nil {
			log.Printf("[ROBOT] pass: evaluate %s failed: %v", cfg.RobotID, err)
			continue
		}
		for _, sig := range signals {
			if msg := m.execute(ctx, lnk, cfg, sig); msg != "" {
				log.Printf("[ROBOT] pass: %s skipped: %s", cfg.RobotID, msg)
			}
		}
	}
}

func (m *Manager) publish(e events.Event, payload any) {
	if m.bus != nil {
		m.bus.Publish(e, payload)
	}
}

func (m *Manager) record(userID, action, detail string) {
	if m.auditor != nil {
		m.auditor.Record(userID, action, detail)
	}
}
