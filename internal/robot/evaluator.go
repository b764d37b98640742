package robot

import (
	"context"

	"robot-core/pkg/broker"
	"robot-core/pkg/db"
)

// Signal is a trade proposed by a strategy evaluation pass.
type Signal struct {
	RobotID    string           `json:"robot_id"`
	Symbol     string           `json:"symbol"`
	Direction  broker.Direction `json:"direction"`
	Volume     float64          `json:"volume"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason"`
}

// Evaluator produces zero or more signals for a robot. The strategy logic
// behind it is opaque to the lifecycle manager.
type Evaluator interface {
	Evaluate(ctx context.Context, r db.Robot, cfg db.RobotConfig) ([]Signal, error)
}

// NoopEvaluator emits no signals. It stands in until a strategy backend is
// attached and keeps start/stop semantics fully exercisable.
type NoopEvaluator struct{}

// Evaluate returns no signals.
func (NoopEvaluator) Evaluate(ctx context.Context, r db.Robot, cfg db.RobotConfig) ([]Signal, error) {
	return nil, nil
}
