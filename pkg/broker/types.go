package broker

import "time"

// DeploymentState tracks where a remote account is in the provisioning flow.
type DeploymentState string

const (
	DeployUndeployed DeploymentState = "UNDEPLOYED"
	DeployDeploying  DeploymentState = "DEPLOYING"
	DeployDeployed   DeploymentState = "DEPLOYED"
)

// ConnectionState tracks the remote account terminal connection.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "DISCONNECTED"
	ConnConnecting   ConnectionState = "CONNECTING"
	ConnConnected    ConnectionState = "CONNECTED"
)

// Direction denotes trade direction.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// DealEntry tags a deal as an opening or closing leg of a position.
type DealEntry string

const (
	DealEntryIn  DealEntry = "IN"
	DealEntryOut DealEntry = "OUT"
)

// RemoteAccount is one account entry visible to the service credential.
type RemoteAccount struct {
	ID              string          `json:"id"`
	Login           string          `json:"login"`
	Server          string          `json:"server"`
	DeploymentState DeploymentState `json:"state"`
	ConnectionState ConnectionState `json:"connectionStatus"`
}

// AccountInfo is the live balance snapshot for a deployed account.
type AccountInfo struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
}

// Position is broker-side open exposure identified by a position id.
type Position struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"type"`
	Volume    float64   `json:"volume"`
	OpenPrice float64   `json:"openPrice"`
	OpenTime  time.Time `json:"time"`
	Profit    float64   `json:"profit"`
	RobotID   string    `json:"clientId"` // robot tag carried in the order client id; empty for manual trades
}

// Deal is a single broker-reported fill event.
type Deal struct {
	ID         string    `json:"id"`
	PositionID string    `json:"positionId"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"type"`
	Entry      DealEntry `json:"entryType"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Time       time.Time `json:"time"`
	RobotID    string    `json:"clientId"`
}

// OrderRequest captures a market order intent.
type OrderRequest struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"type"`
	Volume    float64   `json:"volume"`
	RobotID   string    `json:"clientId,omitempty"`
}

// OrderResult is the broker ack for a placed order.
type OrderResult struct {
	OrderID    string `json:"orderId"`
	PositionID string `json:"positionId"`
}

// CloseFilter narrows a bulk close to positions tagged with a robot.
// Zero value closes everything.
type CloseFilter struct {
	RobotID string `json:"clientId,omitempty"`
}

// CloseResult reports the outcome of a bulk close. Already-closed positions
// are counted as no-ops by the broker, not errors.
type CloseResult struct {
	ClosedCount int      `json:"closedCount"`
	Errors      []string `json:"errors"`
}
