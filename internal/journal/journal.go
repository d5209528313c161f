// Package journal persists the coordinator's event stream as JSON lines in
// date-organized files. Operators replay a session's event history from disk
// without keeping an SSE client attached.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/crx_host/internal/relay"
)

// Record is one journaled event line.
type Record struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session"`
	Event   string    `json:"event"`
	Payload string    `json:"payload,omitempty"`
}

// Journal appends broker events to rotating JSONL files under
// baseDir/<date>/events/. Writes are synchronous with the broker
// subscription; the broker's buffered channel absorbs bursts.
type Journal struct {
	baseDir   string
	maxSizeMB int

	mu          sync.Mutex
	currentDate string
	out         *lumberjack.Logger
}

// New creates a journal rooted at baseDir.
func New(baseDir string, maxSizeMB int) *Journal {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	return &Journal{baseDir: baseDir, maxSizeMB: maxSizeMB}
}

// Run subscribes to the broker and journals every event until ctx is
// cancelled.
func (j *Journal) Run(ctx context.Context, broker *relay.Broker) {
	id, events := broker.Subscribe()
	defer broker.Unsubscribe(id)
	defer j.close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			j.Append(Record{
				Time:    time.Now().UTC(),
				Session: evt.Session,
				Event:   evt.Name,
				Payload: evt.Payload,
			})
		}
	}
}

// Append writes one record, rotating to a new date directory at UTC
// midnight.
func (j *Journal) Append(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("journal marshal failed", "event", rec.Event, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := rec.Time.UTC().Format("2006-01-02")
	if j.out == nil || date != j.currentDate {
		if err := j.rotateLocked(date); err != nil {
			slog.Error("journal rotate failed", "date", date, "error", err)
			return
		}
	}

	if _, err := j.out.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "event", rec.Event, "error", err)
	}
}

func (j *Journal) rotateLocked(date string) error {
	if j.out != nil {
		_ = j.out.Close()
	}

	dir := filepath.Join(j.baseDir, date, "events")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir %s: %w", dir, err)
	}

	j.out = &lumberjack.Logger{
		Filename:  filepath.Join(dir, "coordinator.jsonl"),
		MaxSize:   j.maxSizeMB,
		MaxAge:    30,
		LocalTime: false,
	}
	j.currentDate = date
	slog.Info("journal file opened", "dir", dir)
	return nil
}

func (j *Journal) close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.out != nil {
		_ = j.out.Close()
		j.out = nil
	}
}
