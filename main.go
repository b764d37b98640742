package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robot-core/internal/api"
	"robot-core/internal/audit"
	"robot-core/internal/balance"
	"robot-core/internal/events"
	"robot-core/internal/link"
	"robot-core/internal/reconcile"
	"robot-core/internal/robot"
	"robot-core/pkg/broker"
	"robot-core/pkg/config"
	"robot-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[INIT] config load failed: %v", err)
	}
	log.Printf("[INIT] starting robot core on port %s", cfg.Port)
	log.Printf("[INIT] using db path %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("[INIT] db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("[INIT] db migrations failed: %v", err)
	}

	auditor := audit.New(database)
	defer auditor.Close()

	gateway := broker.NewClient(cfg.BridgeBaseURL, cfg.BridgeToken)
	linker := link.NewLinker(gateway, database)
	balanceSync := balance.NewSynchronizer(gateway, database, bus)
	reconciler := reconcile.NewReconciler(database, bus)
	robots := robot.NewManager(database, gateway, linker, robot.NoopEvaluator{}, bus, auditor)

	// Robot catalog from YAML; missing file is not fatal.
	if cfg.RobotCatalogPath != "" {
		entries, err := robot.LoadCatalog(cfg.RobotCatalogPath)
		if err != nil {
			log.Printf("[INIT] robot catalog load failed: %v", err)
		} else if err := robot.SyncCatalogToDB(database.DB, entries); err != nil {
			log.Printf("[INIT] robot catalog sync failed: %v", err)
		} else {
			log.Printf("[INIT] robot catalog synced (%d robots)", len(entries))
		}
	}

	// Background reconciliation over every connected account.
	if cfg.SyncInterval > 0 {
		go runSyncLoop(ctx, database, gateway, reconciler, cfg.SyncInterval, cfg.SyncWindow)
		log.Printf("[INIT] background reconciliation every %s", cfg.SyncInterval)
	}

	// Scheduled evaluation keeps enabled robots trading between start calls.
	if cfg.EvalInterval > 0 {
		go robots.RunEvaluationLoop(ctx, cfg.EvalInterval)
		log.Printf("[INIT] robot evaluation every %s", cfg.EvalInterval)
	}

	server := api.NewServer(api.ServerDeps{
		Bus:            bus,
		DB:             database,
		Gateway:        gateway,
		Linker:         linker,
		Balance:        balanceSync,
		Reconciler:     reconciler,
		Robots:         robots,
		Auditor:        auditor,
		JWTSecret:      cfg.JWTSecret,
		BalanceMaxWait: cfg.BalanceMaxWait,
		SyncWindow:     cfg.SyncWindow,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("[API] server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[SHUTDOWN] signal received, shutting down")
}

// runSyncLoop periodically reconciles the deal history window for every
// connected link. A failed account never stops the loop or the other
// accounts' syncs.
func runSyncLoop(ctx context.Context, database *db.Database, gateway broker.Gateway, reconciler *reconcile.Reconciler, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		links, err := database.ListConnectedLinks(ctx)
		if err != nil {
			log.Printf("[SYNC] list links failed: %v", err)
			continue
		}

		since := time.Now().UTC().Add(-window)
		for i := range links {
			lnk := &links[i]
			deals, err := gateway.GetDealHistory(ctx, lnk.RemoteAccountID, since)
			if err != nil {
				log.Printf("[SYNC] deal history failed for link %s: %v", lnk.ID, err)
				continue
			}
			open, closed, err := reconciler.Sync(ctx, lnk, deals)
			if err != nil {
				log.Printf("[SYNC] reconcile failed for link %s: %v", lnk.ID, err)
				continue
			}
			if open+closed > 0 {
				log.Printf("[SYNC] link %s: %d deals -> %d open, %d closed", lnk.ID, len(deals), open, closed)
			}
		}
	}
}
