// Package db provides user-isolated database queries for multi-tenant architecture.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// UserQueries provides user-isolated database queries.
type UserQueries struct {
	db *sql.DB
}

// NewUserQueries creates a new UserQueries instance.
func NewUserQueries(db *sql.DB) *UserQueries {
	return &UserQueries{db: db}
}

// ----------------------------------------
// Account Link Queries
// ----------------------------------------

// CreateAccountLink inserts a new link row for a user.
func (q *UserQueries) CreateAccountLink(ctx context.Context, l AccountLink) error {
	if l.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO account_links (
			id, user_id, login, server, remote_account_id,
			deployment_state, connection_state, status
		) VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)
	`, l.ID, l.UserID, l.Login, l.Server, l.RemoteAccountID,
		l.DeploymentState, l.ConnectionState, l.Status)
	return err
}

// GetAccountLinkByUser returns the user's link or ErrNotFound.
func (q *UserQueries) GetAccountLinkByUser(ctx context.Context, userID string) (*AccountLink, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var (
		l        AccountLink
		remoteID sql.NullString
		lastSync sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, login, server, remote_account_id,
		       deployment_state, connection_state, balance, equity, last_sync,
		       status, created_at, updated_at
		FROM account_links
		WHERE user_id = ?
	`, userID).Scan(&l.ID, &l.UserID, &l.Login, &l.Server, &remoteID,
		&l.DeploymentState, &l.ConnectionState, &l.Balance, &l.Equity, &lastSync,
		&l.Status, &l.CreatedAt, &l.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account link: %w", err)
	}
	l.RemoteAccountID = remoteID.String
	l.LastSync = lastSync.Time
	return &l, nil
}

// DisconnectLink soft-deletes the user's link.
func (q *UserQueries) DisconnectLink(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE account_links
		SET status = ?, connection_state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?
	`, LinkStatusDisconnected, "DISCONNECTED", userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDisconnectedLink removes a soft-deleted link row so the user can
// create a fresh one. A CONNECTED link is never removed this way.
func (q *UserQueries) DeleteDisconnectedLink(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		DELETE FROM account_links WHERE user_id = ? AND status = ?
	`, userID, LinkStatusDisconnected)
	return err
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

// UpsertTrade writes a reconciled trade keyed by broker position id. A row
// that already reached CLOSED is never modified again, so a re-sync over the
// same history window cannot reopen or double-count a finalized trade.
func (q *UserQueries) UpsertTrade(ctx context.Context, t Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, user_id, link_id, robot_id, position_id, symbol, direction,
			volume, open_price, close_price, open_time, close_time,
			profit, commission, swap, incomplete, status
		) VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			symbol = excluded.symbol,
			direction = excluded.direction,
			volume = excluded.volume,
			open_price = excluded.open_price,
			close_price = excluded.close_price,
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			profit = excluded.profit,
			commission = excluded.commission,
			swap = excluded.swap,
			incomplete = excluded.incomplete,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
		WHERE trades.status != 'CLOSED'
	`, t.ID, t.UserID, t.LinkID, t.RobotID, t.PositionID, t.Symbol, t.Direction,
		t.Volume, t.OpenPrice, t.ClosePrice, nullableTime(t.OpenTime), nullableTime(t.CloseTime),
		t.Profit, t.Commission, t.Swap, t.Incomplete, t.Status)
	return err
}

// GetTradesByUser returns trades for a user, optionally filtered by status.
func (q *UserQueries) GetTradesByUser(ctx context.Context, userID, status string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	query := `
		SELECT id, user_id, link_id, COALESCE(robot_id, ''), position_id, symbol,
		       direction, volume, open_price, close_price, open_time, close_time,
		       profit, commission, swap, incomplete, status, created_at, updated_at
		FROM trades
		WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY open_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetOpenTradesByRobot returns OPEN trades tagged with a robot id.
func (q *UserQueries) GetOpenTradesByRobot(ctx context.Context, userID, robotID string) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, link_id, COALESCE(robot_id, ''), position_id, symbol,
		       direction, volume, open_price, close_price, open_time, close_time,
		       profit, commission, swap, incomplete, status, created_at, updated_at
		FROM trades
		WHERE user_id = ? AND robot_id = ? AND status = 'OPEN'
		ORDER BY open_time ASC
	`, userID, robotID)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// MarkRobotTradesClosed flips OPEN trades for a robot to CLOSED and returns
// how many rows changed.
func (q *UserQueries) MarkRobotTradesClosed(ctx context.Context, userID, robotID string) (int64, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE trades
		SET status = 'CLOSED', close_time = COALESCE(close_time, CURRENT_TIMESTAMP),
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND robot_id = ? AND status = 'OPEN'
	`, userID, robotID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkTradeClosedByPosition flips one OPEN trade to CLOSED by position id.
func (q *UserQueries) MarkTradeClosedByPosition(ctx context.Context, userID, positionID string) (int64, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE trades
		SET status = 'CLOSED', close_time = COALESCE(close_time, CURRENT_TIMESTAMP),
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND position_id = ? AND status = 'OPEN'
	`, userID, positionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkAllOpenTradesClosed flips every OPEN trade for a user to CLOSED.
func (q *UserQueries) MarkAllOpenTradesClosed(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE trades
		SET status = 'CLOSED', close_time = COALESCE(close_time, CURRENT_TIMESTAMP),
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND status = 'OPEN'
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ----------------------------------------
// Robot Config Queries
// ----------------------------------------

// GetRobotConfig returns the (user, robot) config or ErrNotFound.
func (q *UserQueries) GetRobotConfig(ctx context.Context, userID, robotID string) (*RobotConfig, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var c RobotConfig
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, robot_id, enabled, risk_percent, max_concurrent_trades,
		       COALESCE(symbol_filter, ''), updated_at
		FROM robot_configs
		WHERE user_id = ? AND robot_id = ?
	`, userID, robotID).Scan(&c.UserID, &c.RobotID, &c.Enabled, &c.RiskPercent,
		&c.MaxConcurrentTrades, &c.SymbolFilter, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query robot config: %w", err)
	}
	return &c, nil
}

// SetRobotEnabled upserts the enablement flag. Settings keep their current
// values (or schema defaults on first enable); the flag-set itself is
// idempotent by construction.
func (q *UserQueries) SetRobotEnabled(ctx context.Context, userID, robotID string, enabled bool) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO robot_configs (user_id, robot_id, enabled, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, robot_id) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP
	`, userID, robotID, enabled)
	return err
}

// UpdateRobotSettings upserts strategy settings without touching the flag.
func (q *UserQueries) UpdateRobotSettings(ctx context.Context, c RobotConfig) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO robot_configs (user_id, robot_id, enabled, risk_percent, max_concurrent_trades, symbol_filter, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, robot_id) DO UPDATE SET
			risk_percent = excluded.risk_percent,
			max_concurrent_trades = excluded.max_concurrent_trades,
			symbol_filter = excluded.symbol_filter,
			updated_at = CURRENT_TIMESTAMP
	`, c.UserID, c.RobotID, c.RiskPercent, c.MaxConcurrentTrades, c.SymbolFilter)
	return err
}

// IsRobotEnabled reads the flag through the same store the disable write
// goes through, giving the evaluation path read-after-write consistency.
func (q *UserQueries) IsRobotEnabled(ctx context.Context, userID, robotID string) (bool, error) {
	if userID == "" {
		return false, ErrUserIDRequired
	}

	var enabled bool
	err := q.db.QueryRowContext(ctx, `
		SELECT enabled FROM robot_configs WHERE user_id = ? AND robot_id = ?
	`, userID, robotID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// ListRobotConfigsByUser returns all configs for a user.
func (q *UserQueries) ListRobotConfigsByUser(ctx context.Context, userID string) ([]RobotConfig, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, robot_id, enabled, risk_percent, max_concurrent_trades,
		       COALESCE(symbol_filter, ''), updated_at
		FROM robot_configs
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query robot configs: %w", err)
	}
	defer rows.Close()

	var configs []RobotConfig
	for rows.Next() {
		var c RobotConfig
		if err := rows.Scan(&c.UserID, &c.RobotID, &c.Enabled, &c.RiskPercent,
			&c.MaxConcurrentTrades, &c.SymbolFilter, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan robot config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// DisableAllRobotConfigs flips every enabled config for a user off in one
// statement and returns how many were enabled before.
func (q *UserQueries) DisableAllRobotConfigs(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE robot_configs
		SET enabled = 0, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND enabled = 1
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanTrade(rows *sql.Rows) (Trade, error) {
	var (
		t                   Trade
		openTime, closeTime sql.NullTime
	)
	if err := rows.Scan(&t.ID, &t.UserID, &t.LinkID, &t.RobotID, &t.PositionID, &t.Symbol,
		&t.Direction, &t.Volume, &t.OpenPrice, &t.ClosePrice, &openTime, &closeTime,
		&t.Profit, &t.Commission, &t.Swap, &t.Incomplete, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Trade{}, fmt.Errorf("scan trade: %w", err)
	}
	t.OpenTime = openTime.Time
	t.CloseTime = closeTime.Time
	return t, nil
}
