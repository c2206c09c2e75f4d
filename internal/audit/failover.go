package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const spoolFile = "audit_spool.log"

var ErrSpoolFull = errors.New("audit spool full")

// FailoverEvent wrapper for JSONL spooling
type FailoverEvent struct {
	EventID   string    `json:"event_id"`
	Payload   Entry     `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Spool is a local JSONL buffer for entries the database refused.
type Spool struct {
	dir     string
	maxSize int64

	writeMu  sync.Mutex
	replayMu sync.Mutex
}

func NewSpool(dir string, maxMB int64) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("spool dir required")
	}
	if maxMB <= 0 {
		maxMB = 256
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Spool{dir: dir, maxSize: maxMB * 1024 * 1024}, nil
}

func (s *Spool) Dir() string { return s.dir }

// Write appends e to the spool. When the directory exceeds its budget the
// entry is rejected.
func (s *Spool) Write(e Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.size() >= s.maxSize {
		return ErrSpoolFull
	}

	line, err := json.Marshal(FailoverEvent{
		EventID:   e.EventID.String(),
		Payload:   e,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(s.dir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *Spool) size() int64 {
	var size int64
	_ = filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

// StartReplayer flushes the spool back into the database every interval until ctx ends.
func (t *Trail) StartReplayer(ctx context.Context, interval time.Duration) {
	if t.spool == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.ReplaySpool(ctx)
			}
		}
	}()
}

// ReplaySpool moves the current spool aside and re-inserts every entry.
// Entries that still fail are spooled again by AppendDetached; event_id makes
// the insert idempotent.
func (t *Trail) ReplaySpool(ctx context.Context) int {
	if t.spool == nil {
		return 0
	}
	s := t.spool
	s.replayMu.Lock()
	defer s.replayMu.Unlock()

	current := filepath.Join(s.dir, spoolFile)
	replay := filepath.Join(s.dir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))

	s.writeMu.Lock()
	info, err := os.Stat(current)
	if err != nil || info.Size() == 0 {
		s.writeMu.Unlock()
		return 0
	}
	err = os.Rename(current, replay)
	s.writeMu.Unlock()
	if err != nil {
		slog.Error("audit spool rotate failed", "error", err)
		return 0
	}

	f, err := os.Open(replay)
	if err != nil {
		return 0
	}

	var flushed, bad int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fe FailoverEvent
		if err := json.Unmarshal(scanner.Bytes(), &fe); err != nil {
			bad++
			continue
		}
		if err := t.Append(ctx, t.DB, fe.Payload); err != nil {
			if rejected(err) {
				slog.Error("audit replay dropped rejected entry", "event_id", fe.EventID, "error", err)
				bad++
				continue
			}
			if spoolErr := s.Write(fe.Payload); spoolErr != nil {
				slog.Error("audit replay dropped entry", "event_id", fe.EventID, "error", spoolErr)
			}
			continue
		}
		flushed++
	}
	f.Close()
	os.Remove(replay)

	if flushed > 0 || bad > 0 {
		slog.Info("audit replay", "flushed", flushed, "dropped", bad)
	}
	return flushed
}
