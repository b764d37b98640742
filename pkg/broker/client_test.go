package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(srv.URL, "test-token")
	return client, srv
}

func TestListAccounts(t *testing.T) {
	var gotToken, gotPath string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("auth-token")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode([]RemoteAccount{
			{ID: "acc-1", Login: "100", Server: "Demo", DeploymentState: DeployDeployed, ConnectionState: ConnConnected},
		})
	})
	defer srv.Close()

	accounts, err := client.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acc-1", accounts[0].ID)
	assert.Equal(t, DeployDeployed, accounts[0].DeploymentState)
	assert.Equal(t, "test-token", gotToken)
	assert.Equal(t, "/users/current/accounts", gotPath)
}

func TestGetDealHistoryQuery(t *testing.T) {
	var gotStart string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("startTime")
		json.NewEncoder(w).Encode([]Deal{
			{ID: "d1", PositionID: "pos-1", Entry: DealEntryIn, Price: 1.1},
		})
	})
	defer srv.Close()

	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deals, err := client.GetDealHistory(context.Background(), "acc-1", since)
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "2026-03-01T10:00:00Z", gotStart)
}

func TestErrorIncludesBodySnippet(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"account not deployed"}`, http.StatusConflict)
	})
	defer srv.Close()

	_, err := client.GetAccountInfo(context.Background(), "acc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 409")
	assert.Contains(t, err.Error(), "account not deployed")
}

func TestPlaceOrderPayload(t *testing.T) {
	var gotBody OrderRequest
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(OrderResult{OrderID: "ord-1", PositionID: "pos-1"})
	})
	defer srv.Close()

	result, err := client.PlaceOrder(context.Background(), "acc-1", OrderRequest{
		Symbol: "EURUSD", Direction: DirectionBuy, Volume: 0.1, RobotID: "robot-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pos-1", result.PositionID)
	assert.Equal(t, "robot-1", gotBody.RobotID)
	assert.Equal(t, DirectionBuy, gotBody.Direction)
}

func TestCloseEndpoints(t *testing.T) {
	var gotPaths []string
	var gotFilter CloseFilter
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		if r.URL.Path == "/users/current/accounts/acc-1/positions/close-all" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotFilter))
			json.NewEncoder(w).Encode(CloseResult{ClosedCount: 2})
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	require.NoError(t, client.ClosePosition(context.Background(), "acc-1", "pos-9"))

	result, err := client.CloseAllPositions(context.Background(), "acc-1", CloseFilter{RobotID: "robot-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ClosedCount)
	assert.Equal(t, "robot-1", gotFilter.RobotID)
	assert.Equal(t, []string{
		"/users/current/accounts/acc-1/positions/pos-9/close",
		"/users/current/accounts/acc-1/positions/close-all",
	}, gotPaths)
}

func TestContextCancellation(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListAccounts(ctx)
	assert.Error(t, err)
}
