package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// fileStore persists the collection as one JSON snapshot.
//
// Writes go to <path>.tmp and are renamed into place, so the on-disk file is
// either the previous snapshot or the new one, never a partial write.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
}

type snapshot struct {
	Version   int      `json:"version"`
	SavedAt   int64    `json:"saved_at_ms"`
	Reminders []record `json:"reminders"`
}

const snapshotVersion = 1

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadAll(ctx context.Context) ([]reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	out := make([]reminder.Reminder, 0, len(snap.Reminders))
	for _, rec := range snap.Reminders {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func (s *fileStore) SaveAll(ctx context.Context, rs []reminder.Reminder) error {
	_ = ctx
	recs := make([]record, 0, len(rs))
	for _, r := range rs {
		recs = append(recs, toRecord(r))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].MessageID < recs[j].MessageID })
	snap := snapshot{Version: snapshotVersion, SavedAt: time.Now().UnixMilli(), Reminders: recs}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.log.Debug("snapshot written", logx.String("path", s.path), logx.Int("reminders", len(recs)))
	return nil
}
