package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()

	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return database
}

func seedLink(t *testing.T, database *Database, id, userID string) {
	t.Helper()
	err := database.Queries().CreateAccountLink(context.Background(), AccountLink{
		ID:              id,
		UserID:          userID,
		Login:           "12345",
		Server:          "Broker-Demo",
		DeploymentState: "UNDEPLOYED",
		ConnectionState: "DISCONNECTED",
		Status:          LinkStatusConnected,
	})
	if err != nil {
		t.Fatalf("seed link: %v", err)
	}
}

func TestSetRemoteAccountID(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	seedLink(t, database, "link-1", "user-1")

	t.Run("first write succeeds", func(t *testing.T) {
		if err := database.SetRemoteAccountID(ctx, "link-1", "acc-abc"); err != nil {
			t.Fatalf("first write: %v", err)
		}
	})

	t.Run("same value is a no-op", func(t *testing.T) {
		if err := database.SetRemoteAccountID(ctx, "link-1", "acc-abc"); err != nil {
			t.Fatalf("rewrite same value: %v", err)
		}
	})

	t.Run("different value conflicts", func(t *testing.T) {
		err := database.SetRemoteAccountID(ctx, "link-1", "acc-other")
		if !errors.Is(err, ErrRemoteIDConflict) {
			t.Fatalf("want ErrRemoteIDConflict, got %v", err)
		}
	})
}

func TestUpdateLinkBalanceDiscardsStaleWrites(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	seedLink(t, database, "link-1", "user-1")

	newer := time.Now().UTC()
	older := newer.Add(-1 * time.Minute)

	applied, err := database.UpdateLinkBalance(ctx, "link-1", 1000, 995, newer)
	if err != nil || !applied {
		t.Fatalf("fresh write: applied=%v err=%v", applied, err)
	}

	applied, err = database.UpdateLinkBalance(ctx, "link-1", 900, 890, older)
	if err != nil {
		t.Fatalf("stale write: %v", err)
	}
	if applied {
		t.Fatal("stale write must not be applied")
	}

	lnk, err := database.Queries().GetAccountLinkByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if lnk.Balance != 1000 || lnk.Equity != 995 {
		t.Fatalf("balance overwritten by stale fetch: %v / %v", lnk.Balance, lnk.Equity)
	}
}

func TestUpsertTradeClosedGuard(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	seedLink(t, database, "link-1", "user-1")
	q := database.Queries()

	base := Trade{
		ID:         "trade-1",
		UserID:     "user-1",
		LinkID:     "link-1",
		PositionID: "pos-1",
		Symbol:     "EURUSD",
		Direction:  "BUY",
		Volume:     0.1,
		OpenPrice:  1.1000,
		Status:     TradeStatusOpen,
	}
	if err := q.UpsertTrade(ctx, base); err != nil {
		t.Fatalf("insert: %v", err)
	}

	t.Run("open rows are refined", func(t *testing.T) {
		update := base
		update.ID = "ignored-on-conflict"
		update.Profit = 12.5
		if err := q.UpsertTrade(ctx, update); err != nil {
			t.Fatalf("update: %v", err)
		}

		trades, err := q.GetTradesByUser(ctx, "user-1", "", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(trades) != 1 {
			t.Fatalf("want 1 trade, got %d", len(trades))
		}
		if trades[0].ID != "trade-1" {
			t.Fatalf("row identity must survive upsert, got id %s", trades[0].ID)
		}
		if trades[0].Profit != 12.5 {
			t.Fatalf("profit not updated: %v", trades[0].Profit)
		}
	})

	t.Run("closed rows are frozen", func(t *testing.T) {
		closed := base
		closed.ClosePrice = 1.1050
		closed.Profit = 50
		closed.Status = TradeStatusClosed
		if err := q.UpsertTrade(ctx, closed); err != nil {
			t.Fatalf("close: %v", err)
		}

		// A re-sync delivering the same window must not touch the row.
		reopen := base
		reopen.Profit = 0
		reopen.Status = TradeStatusOpen
		if err := q.UpsertTrade(ctx, reopen); err != nil {
			t.Fatalf("re-sync: %v", err)
		}

		trades, err := q.GetTradesByUser(ctx, "user-1", TradeStatusClosed, 10)
		if err != nil {
			t.Fatalf("list closed: %v", err)
		}
		if len(trades) != 1 {
			t.Fatalf("closed trade lost: got %d rows", len(trades))
		}
		if trades[0].Profit != 50 || trades[0].ClosePrice != 1.1050 {
			t.Fatalf("closed trade mutated: %+v", trades[0])
		}
	})
}

func TestTradeUserIsolation(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	seedLink(t, database, "link-a", "user-a")
	seedLink(t, database, "link-b", "user-b")
	q := database.Queries()

	for i, userID := range []string{"user-a", "user-b"} {
		err := q.UpsertTrade(ctx, Trade{
			ID:         "trade-" + userID,
			UserID:     userID,
			LinkID:     "link-" + string(rune('a'+i)),
			PositionID: "pos-" + userID,
			Symbol:     "EURUSD",
			Direction:  "BUY",
			Volume:     0.1,
			Status:     TradeStatusOpen,
		})
		if err != nil {
			t.Fatalf("seed trade for %s: %v", userID, err)
		}
	}

	trades, err := q.GetTradesByUser(ctx, "user-a", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 1 || trades[0].UserID != "user-a" {
		t.Fatalf("user isolation broken: %+v", trades)
	}

	if _, err := q.GetTradesByUser(ctx, "", "", 10); !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("want ErrUserIDRequired, got %v", err)
	}
}

func TestRobotConfigFlags(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	q := database.Queries()

	t.Run("enable is idempotent", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := q.SetRobotEnabled(ctx, "user-1", "robot-1", true); err != nil {
				t.Fatalf("enable #%d: %v", i, err)
			}
		}
		configs, err := q.ListRobotConfigsByUser(ctx, "user-1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(configs) != 1 {
			t.Fatalf("want single config row, got %d", len(configs))
		}
		if !configs[0].Enabled {
			t.Fatal("robot not enabled")
		}
	})

	t.Run("missing config reads as disabled", func(t *testing.T) {
		enabled, err := q.IsRobotEnabled(ctx, "user-1", "robot-unknown")
		if err != nil {
			t.Fatalf("read flag: %v", err)
		}
		if enabled {
			t.Fatal("unknown robot must read as disabled")
		}
	})

	t.Run("disable all counts enabled rows only", func(t *testing.T) {
		if err := q.SetRobotEnabled(ctx, "user-1", "robot-2", true); err != nil {
			t.Fatalf("enable robot-2: %v", err)
		}
		if err := q.SetRobotEnabled(ctx, "user-1", "robot-3", false); err != nil {
			t.Fatalf("seed disabled robot-3: %v", err)
		}

		n, err := q.DisableAllRobotConfigs(ctx, "user-1")
		if err != nil {
			t.Fatalf("disable all: %v", err)
		}
		if n != 2 {
			t.Fatalf("want 2 disabled, got %d", n)
		}

		n, err = q.DisableAllRobotConfigs(ctx, "user-1")
		if err != nil {
			t.Fatalf("second disable all: %v", err)
		}
		if n != 0 {
			t.Fatalf("second pass must disable nothing, got %d", n)
		}
	})
}

func TestMarkTradesClosed(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	seedLink(t, database, "link-1", "user-1")
	q := database.Queries()

	seed := func(id, posID, robotID, status string) {
		t.Helper()
		err := q.UpsertTrade(ctx, Trade{
			ID: id, UserID: "user-1", LinkID: "link-1", RobotID: robotID,
			PositionID: posID, Symbol: "EURUSD", Direction: "BUY", Volume: 0.1,
			Status: status,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	seed("t1", "p1", "robot-1", TradeStatusOpen)
	seed("t2", "p2", "robot-1", TradeStatusOpen)
	seed("t3", "p3", "robot-2", TradeStatusOpen)

	n, err := q.MarkRobotTradesClosed(ctx, "user-1", "robot-1")
	if err != nil {
		t.Fatalf("mark robot closed: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 closed for robot-1, got %d", n)
	}

	n, err = q.MarkAllOpenTradesClosed(ctx, "user-1")
	if err != nil {
		t.Fatalf("mark all closed: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 remaining closed, got %d", n)
	}
}

func TestDisconnectLink(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	q := database.Queries()

	if err := q.DisconnectLink(ctx, "user-none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	seedLink(t, database, "link-1", "user-1")
	if err := q.DisconnectLink(ctx, "user-1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	lnk, err := q.GetAccountLinkByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if lnk.Status != LinkStatusDisconnected {
		t.Fatalf("status not updated: %s", lnk.Status)
	}

	// A disconnected link can be replaced by a fresh row.
	if err := q.DeleteDisconnectedLink(ctx, "user-1"); err != nil {
		t.Fatalf("delete disconnected: %v", err)
	}
	if _, err := q.GetAccountLinkByUser(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}
