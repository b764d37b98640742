// Package audit appends control-plane actions to the audit log.
package audit

import (
	"context"
	"log"
	"time"

	"robot-core/pkg/db"
)

type entry struct {
	userID string
	action string
	detail string
}

// Logger writes audit rows asynchronously. Appends are fire-and-forget:
// a full buffer drops the entry rather than stalling a control-plane call.
type Logger struct {
	database *db.Database
	ch       chan entry
	done     chan struct{}
}

// New starts the background writer.
func New(database *db.Database) *Logger {
	l := &Logger{
		database: database,
		ch:       make(chan entry, 256),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.database.InsertAudit(ctx, e.userID, e.action, e.detail); err != nil {
			log.Printf("[AUDIT] append failed (%s %s): %v", e.userID, e.action, err)
		}
		cancel()
	}
}

// Record enqueues one audit row.
func (l *Logger) Record(userID, action, detail string) {
	select {
	case l.ch <- entry{userID: userID, action: action, detail: detail}:
	default:
		// drop rather than block the caller
	}
}

// Close flushes pending entries and stops the writer.
func (l *Logger) Close() {
	close(l.ch)
	<-l.done
}
