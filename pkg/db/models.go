package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRemoteIDConflict is returned when a resolve attempt tries to overwrite an
// already-persisted remote account identifier with a different value.
var ErrRemoteIDConflict = errors.New("remote account id already set to a different value")

// AccountLink maps a local user account to a remote broker account.
type AccountLink struct {
	ID              string
	UserID          string
	Login           string
	Server          string
	RemoteAccountID string // empty until discovered, then immutable
	DeploymentState string
	ConnectionState string
	Balance         float64
	Equity          float64
	LastSync        time.Time // zero when never synced
	Status          string    // CONNECTED | DISCONNECTED
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Trade is the canonical ledger record derived from broker deals.
type Trade struct {
	ID         string
	UserID     string
	LinkID     string
	RobotID    string // empty for manual trades
	PositionID string
	Symbol     string
	Direction  string
	Volume     float64
	OpenPrice  float64
	ClosePrice float64
	OpenTime   time.Time
	CloseTime  time.Time
	Profit     float64
	Commission float64
	Swap       float64
	Incomplete bool
	Status     string // OPEN | CLOSED
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TradeStatus values for the trades ledger. OPEN transitions to CLOSED only.
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// LinkStatus values for account_links.
const (
	LinkStatusConnected    = "CONNECTED"
	LinkStatusDisconnected = "DISCONNECTED"
)

// RobotConfig is the per (user, robot) enablement record.
type RobotConfig struct {
	UserID              string
	RobotID             string
	Enabled             bool
	RiskPercent         float64
	MaxConcurrentTrades int
	SymbolFilter        string
	UpdatedAt           time.Time
}

// Robot is a catalog entry for an automated strategy.
type Robot struct {
	ID         string
	Name       string
	Symbol     string
	Timeframe  string
	Parameters string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, nullableTime(u.CreatedAt), nullableTime(u.UpdatedAt))
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// SetRemoteAccountID persists the discovered remote identifier exactly once.
// Re-writing the same value is a no-op; writing a different value over an
// existing one fails with ErrRemoteIDConflict.
func (d *Database) SetRemoteAccountID(ctx context.Context, linkID, remoteID string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE account_links
		SET remote_account_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND (remote_account_id IS NULL OR remote_account_id = '' OR remote_account_id = ?)
	`, remoteID, linkID, remoteID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRemoteIDConflict
	}
	return nil
}

// UpdateLinkStates stores the latest deployment/connection states.
func (d *Database) UpdateLinkStates(ctx context.Context, linkID, deployment, connection string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE account_links
		SET deployment_state = ?, connection_state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, deployment, connection, linkID)
	return err
}

// UpdateLinkBalance writes balance and equity together with the sync
// timestamp. The compare-and-set on last_sync discards out-of-order writes
// from fetches that completed after a newer one already landed.
// Returns true when the row was updated.
func (d *Database) UpdateLinkBalance(ctx context.Context, linkID string, balance, equity float64, syncedAt time.Time) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE account_links
		SET balance = ?, equity = ?, last_sync = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND (last_sync IS NULL OR last_sync <= ?)
	`, balance, equity, syncedAt.UTC(), linkID, syncedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListConnectedLinks returns every CONNECTED link with a resolved remote id.
// The background reconciliation loop iterates over these.
func (d *Database) ListConnectedLinks(ctx context.Context) ([]AccountLink, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, login, server, remote_account_id,
		       deployment_state, connection_state, balance, equity, last_sync,
		       status, created_at, updated_at
		FROM account_links
		WHERE status = ? AND remote_account_id IS NOT NULL AND remote_account_id != ''
	`, LinkStatusConnected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []AccountLink
	for rows.Next() {
		var (
			l        AccountLink
			remoteID sql.NullString
			lastSync sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Login, &l.Server, &remoteID,
			&l.DeploymentState, &l.ConnectionState, &l.Balance, &l.Equity, &lastSync,
			&l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.RemoteAccountID = remoteID.String
		l.LastSync = lastSync.Time
		links = append(links, l)
	}
	return links, rows.Err()
}

// ListEnabledRobotConfigs returns every enabled config across all users,
// the working set of the scheduled evaluation pass.
func (d *Database) ListEnabledRobotConfigs(ctx context.Context) ([]RobotConfig, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, robot_id, enabled, risk_percent, max_concurrent_trades,
		       COALESCE(symbol_filter, ''), updated_at
		FROM robot_configs
		WHERE enabled = 1
		ORDER BY user_id, robot_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query enabled robot configs: %w", err)
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

// UpsertRobot syncs a catalog entry.
func (d *Database) UpsertRobot(ctx context.Context, r Robot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO robots (id, name, symbol, timeframe, parameters, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			timeframe = excluded.timeframe,
			parameters = excluded.parameters,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, r.ID, r.Name, r.Symbol, r.Timeframe, r.Parameters, r.IsActive)
	return err
}

// ListRobots returns the robot catalog.
func (d *Database) ListRobots(ctx context.Context, activeOnly bool) ([]Robot, error) {
	query := `
		SELECT id, name, symbol, timeframe, COALESCE(parameters, ''), is_active, created_at, updated_at
		FROM robots`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var robots []Robot
	for rows.Next() {
		var r Robot
		if err := rows.Scan(&r.ID, &r.Name, &r.Symbol, &r.Timeframe, &r.Parameters, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		robots = append(robots, r)
	}
	return robots, rows.Err()
}

// GetRobot returns one catalog entry or ErrNotFound.
func (d *Database) GetRobot(ctx context.Context, id string) (*Robot, error) {
	var r Robot
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, name, symbol, timeframe, COALESCE(parameters, ''), is_active, created_at, updated_at
		FROM robots WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &r.Symbol, &r.Timeframe, &r.Parameters, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query robot: %w", err)
	}
	return &r, nil
}

// InsertAudit appends one audit row.
func (d *Database) InsertAudit(ctx context.Context, userID, action, detail string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO audit_log (user_id, action, detail) VALUES (?, ?, ?)
	`, userID, action, detail)
	return err
}

// nullableTime maps the zero time to NULL so COALESCE defaults apply.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
