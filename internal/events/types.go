package events

// Event identifies a control-plane event topic.
type Event string

const (
	EventRobotStarted  Event = "robot.started"
	EventRobotStopped  Event = "robot.stopped"
	EventTradesClosed  Event = "trades.closed"
	EventTradesSynced  Event = "trades.synced"
	EventBalanceSynced Event = "balance.synced"
)

// RobotEvent is the payload for robot lifecycle events.
type RobotEvent struct {
	UserID  string `json:"user_id"`
	RobotID string `json:"robot_id"`
	Action  string `json:"action"`
}

// TradesEvent is the payload for ledger change events.
type TradesEvent struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// BalanceEvent is the payload for balance sync events.
type BalanceEvent struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
	Source  string  `json:"source"`
}
