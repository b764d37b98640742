// Package link resolves local account records to remote broker identities.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"

	"robot-core/pkg/broker"
	"robot-core/pkg/db"
)

// ResolutionError reports a failed (login, server) match. Zero matches means
// the account is not visible to the service credential; more than one exact
// match is a configuration error on the bridge side and is never resolved by
// picking an arbitrary entry.
type ResolutionError struct {
	Login   string
	Server  string
	Matches int
}

func (e *ResolutionError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no remote account matches login %s on server %s", e.Login, e.Server)
	}
	return fmt.Sprintf("ambiguous remote account: %d entries match login %s on server %s", e.Matches, e.Login, e.Server)
}

// DeploymentPendingError signals the remote account is not DEPLOYED yet. The
// caller retries on its own cadence; the linker never blocks waiting.
type DeploymentPendingError struct {
	State broker.DeploymentState
}

func (e *DeploymentPendingError) Error() string {
	return fmt.Sprintf("remote account deployment pending (state %s)", e.State)
}

// Linker drives remote identity discovery and deployment for account links.
type Linker struct {
	gateway  broker.Gateway
	database *db.Database
}

// NewLinker creates a Linker.
func NewLinker(gateway broker.Gateway, database *db.Database) *Linker {
	return &Linker{gateway: gateway, database: database}
}

// Resolve finds the remote account whose login and server exactly match the
// link. On success the remote identifier is persisted once; repeat calls with
// the same discovery are no-ops.
func (l *Linker) Resolve(ctx context.Context, lnk *db.AccountLink) (broker.RemoteAccount, error) {
	accounts, err := l.gateway.ListAccounts(ctx)
	if err != nil {
		return broker.RemoteAccount{}, fmt.Errorf("list remote accounts: %w", err)
	}

	var (
		match   broker.RemoteAccount
		matches int
	)
	for _, acc := range accounts {
		if acc.Login == lnk.Login && acc.Server == lnk.Server {
			match = acc
			matches++
		}
	}
	if matches != 1 {
		return broker.RemoteAccount{}, &ResolutionError{Login: lnk.Login, Server: lnk.Server, Matches: matches}
	}

	if err := l.database.SetRemoteAccountID(ctx, lnk.ID, match.ID); err != nil {
		if errors.Is(err, db.ErrRemoteIDConflict) {
			return broker.RemoteAccount{}, fmt.Errorf("link %s: %w", lnk.ID, err)
		}
		return broker.RemoteAccount{}, fmt.Errorf("persist remote id: %w", err)
	}
	lnk.RemoteAccountID = match.ID

	return match, nil
}

// EnsureDeployed issues a deploy request when the remote account is not
// DEPLOYED and returns the state the caller should treat the account as
// being in. It never waits for provisioning to finish.
func (l *Linker) EnsureDeployed(ctx context.Context, account broker.RemoteAccount) (broker.DeploymentState, error) {
	if account.DeploymentState == broker.DeployDeployed {
		return broker.DeployDeployed, nil
	}

	if account.DeploymentState == broker.DeployUndeployed {
		if err := l.gateway.Deploy(ctx, account.ID); err != nil {
			return account.DeploymentState, fmt.Errorf("deploy account %s: %w", account.ID, err)
		}
		log.Printf("[LINK] deploy requested for account %s", account.ID)
	}
	return broker.DeployDeploying, nil
}

// Prepare loads the user's link and makes sure it is resolved and deployed.
// Returns DeploymentPendingError when provisioning is still in flight; the
// link row always reflects the states observed during the call.
func (l *Linker) Prepare(ctx context.Context, userID string) (*db.AccountLink, error) {
	lnk, err := l.database.Queries().GetAccountLinkByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if lnk.Status == db.LinkStatusDisconnected {
		return nil, fmt.Errorf("account link for user %s is disconnected", userID)
	}

	account, err := l.Resolve(ctx, lnk)
	if err != nil {
		return nil, err
	}

	state, err := l.EnsureDeployed(ctx, account)
	if err != nil {
		return nil, err
	}

	if err := l.database.UpdateLinkStates(ctx, lnk.ID, string(state), string(account.ConnectionState)); err != nil {
		return nil, fmt.Errorf("update link states: %w", err)
	}
	lnk.DeploymentState = string(state)
	lnk.ConnectionState = string(account.ConnectionState)

	if state != broker.DeployDeployed {
		return lnk, &DeploymentPendingError{State: state}
	}
	return lnk, nil
}
