package broker

import (
	"context"
	"time"
)

// Gateway abstracts the remote trading API. It owns no state; every call is
// bounded by the caller's context deadline.
type Gateway interface {
	// ListAccounts returns every remote account visible to the service credential.
	ListAccounts(ctx context.Context) ([]RemoteAccount, error)
	// Deploy requests deployment of an undeployed account. It does not wait
	// for the account to reach DEPLOYED.
	Deploy(ctx context.Context, accountID string) error
	// GetAccountInfo fetches the live balance/equity snapshot.
	GetAccountInfo(ctx context.Context, accountID string) (AccountInfo, error)
	// GetOpenPositions lists live open positions.
	GetOpenPositions(ctx context.Context, accountID string) ([]Position, error)
	// GetDealHistory returns deals since the given time, in the order the
	// broker history feed delivers them. That order is authoritative.
	GetDealHistory(ctx context.Context, accountID string, since time.Time) ([]Deal, error)
	// PlaceOrder submits a market order.
	PlaceOrder(ctx context.Context, accountID string, req OrderRequest) (OrderResult, error)
	// ClosePosition closes a single position by id.
	ClosePosition(ctx context.Context, accountID, positionID string) error
	// CloseAllPositions closes every open position matching the filter in one
	// broker-side call. Closing an already-closed position is a no-op.
	CloseAllPositions(ctx context.Context, accountID string, filter CloseFilter) (CloseResult, error)
}
