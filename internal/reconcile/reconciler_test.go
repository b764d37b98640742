package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-core/pkg/broker"
	"robot-core/pkg/db"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestFoldRoundTrip(t *testing.T) {
	openAt := mustTime(t, "2026-03-01T10:00:00Z")
	closeAt := mustTime(t, "2026-03-01T14:30:00Z")

	deals := []broker.Deal{
		{ID: "d1", PositionID: "pos-1", Symbol: "EURUSD", Direction: broker.DirectionBuy,
			Entry: broker.DealEntryIn, Volume: 0.1, Price: 1.1000, Time: openAt, RobotID: "robot-1"},
		{ID: "d2", PositionID: "pos-1", Symbol: "EURUSD", Direction: broker.DirectionSell,
			Entry: broker.DealEntryOut, Volume: 0.1, Price: 1.1050, Profit: 50, Commission: -0.7, Time: closeAt},
	}

	folded := Fold(deals)
	require.Len(t, folded, 1)

	f := folded[0]
	assert.Equal(t, "pos-1", f.PositionID)
	assert.Equal(t, broker.DirectionBuy, f.Direction)
	assert.Equal(t, 1.1000, f.OpenPrice)
	assert.Equal(t, 1.1050, f.ClosePrice)
	assert.Equal(t, openAt, f.OpenTime)
	assert.Equal(t, closeAt, f.CloseTime)
	assert.Equal(t, 50.0, f.Profit)
	assert.Equal(t, -0.7, f.Commission)
	assert.Equal(t, "robot-1", f.RobotID)
	assert.True(t, f.Closed)
	assert.False(t, f.Incomplete)
}

func TestFoldPositionAddition(t *testing.T) {
	first := mustTime(t, "2026-03-01T10:00:00Z")
	second := mustTime(t, "2026-03-01T11:00:00Z")

	deals := []broker.Deal{
		{ID: "d1", PositionID: "pos-1", Symbol: "XAUUSD", Direction: broker.DirectionBuy,
			Entry: broker.DealEntryIn, Volume: 0.5, Price: 2300, Time: first},
		{ID: "d2", PositionID: "pos-1", Symbol: "XAUUSD", Direction: broker.DirectionBuy,
			Entry: broker.DealEntryIn, Volume: 0.5, Price: 2310, Time: second},
	}

	folded := Fold(deals)
	require.Len(t, folded, 1)

	f := folded[0]
	assert.Equal(t, 1.0, f.Volume, "additions accumulate volume")
	assert.Equal(t, 2300.0, f.OpenPrice, "first entry keeps the open price")
	assert.Equal(t, first, f.OpenTime)
	assert.False(t, f.Closed)
}

func TestFoldInterleavedPositions(t *testing.T) {
	at := mustTime(t, "2026-03-01T10:00:00Z")

	interleaved := []broker.Deal{
		{ID: "a1", PositionID: "pos-a", Symbol: "EURUSD", Direction: broker.DirectionBuy, Entry: broker.DealEntryIn, Volume: 0.1, Price: 1.10, Time: at},
		{ID: "b1", PositionID: "pos-b", Symbol: "GBPUSD", Direction: broker.DirectionSell, Entry: broker.DealEntryIn, Volume: 0.2, Price: 1.25, Time: at},
		{ID: "a2", PositionID: "pos-a", Entry: broker.DealEntryOut, Volume: 0.1, Price: 1.11, Profit: 10, Time: at},
		{ID: "b2", PositionID: "pos-b", Entry: broker.DealEntryOut, Volume: 0.2, Price: 1.24, Profit: 20, Time: at},
	}
	sequential := []broker.Deal{
		interleaved[0], interleaved[2], interleaved[1], interleaved[3],
	}

	a := Fold(interleaved)
	b := Fold(sequential)
	require.Len(t, a, 2)
	require.Len(t, b, 2)

	// Per-position results do not depend on how other positions' deals
	// interleave with theirs.
	byID := func(fs []Folded) map[string]Folded {
		m := make(map[string]Folded, len(fs))
		for _, f := range fs {
			m[f.PositionID] = f
		}
		return m
	}
	assert.Equal(t, byID(a), byID(b))
}

func TestFoldMissingOpeningLeg(t *testing.T) {
	deals := []broker.Deal{
		{ID: "d1", PositionID: "pos-old", Symbol: "EURUSD",
			Entry: broker.DealEntryOut, Volume: 0.3, Price: 1.0950, Profit: -12,
			Time: mustTime(t, "2026-03-01T09:00:00Z")},
	}

	folded := Fold(deals)
	require.Len(t, folded, 1)

	f := folded[0]
	assert.True(t, f.Closed)
	assert.True(t, f.Incomplete)
	assert.Zero(t, f.OpenPrice, "open price is never fabricated")
	assert.Equal(t, -12.0, f.Profit)
}

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestSyncIsRepeatable(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	lnk := &db.AccountLink{ID: "link-1", UserID: "user-1", Login: "100", Server: "Demo", Status: db.LinkStatusConnected}
	require.NoError(t, database.Queries().CreateAccountLink(ctx, *lnk))

	openAt := mustTime(t, "2026-03-01T10:00:00Z")
	deals := []broker.Deal{
		{ID: "d1", PositionID: "pos-1", Symbol: "EURUSD", Direction: broker.DirectionBuy,
			Entry: broker.DealEntryIn, Volume: 0.1, Price: 1.1000, Time: openAt, RobotID: "robot-1"},
		{ID: "d2", PositionID: "pos-1", Entry: broker.DealEntryOut, Volume: 0.1,
			Price: 1.1050, Profit: 50, Time: openAt.Add(time.Hour)},
	}

	r := NewReconciler(database, nil)

	open, closed, err := r.Sync(ctx, lnk, deals)
	require.NoError(t, err)
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, closed)

	// Re-running the same window produces no new rows and no mutations.
	_, _, err = r.Sync(ctx, lnk, deals)
	require.NoError(t, err)

	trades, err := database.Queries().GetTradesByUser(ctx, "user-1", "", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, db.TradeStatusClosed, trades[0].Status)
	assert.Equal(t, 50.0, trades[0].Profit)
	assert.Equal(t, "robot-1", trades[0].RobotID)
}
