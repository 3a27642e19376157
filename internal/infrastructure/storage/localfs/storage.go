// Package localfs writes per-turn triage snapshots to the local output
// tree for audit, one JSON file per turn plus an append-only ndjson log.
package localfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
)

type SnapshotStore struct {
	baseDir string

	// serializes ndjson appends
	logMu sync.Mutex
}

var _ ports.SnapshotWriter = (*SnapshotStore)(nil)

func New(baseDir string) (*SnapshotStore, error) {
	if baseDir == "" {
		baseDir = "./output"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &SnapshotStore{baseDir: baseDir}, nil
}

// Save writes the snapshot to
// <base>/triage/YYYY-MM-DD/<ts>__<level>__<suffix>.json atomically and
// appends one line to <base>/triage_log.ndjson. Returns the snapshot path.
func (s *SnapshotStore) Save(_ context.Context, snap domain.TurnSnapshot) (string, error) {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	suffix := slug(snap.PatientID)
	if suffix == "" {
		suffix = shortID(snap.CaseID)
	}
	level := string(snap.Assessment.Level)
	if level == "" {
		level = "ESI-?"
	}

	day := snap.SavedAt.Format("2006-01-02")
	name := fmt.Sprintf("%s__%s__%s.json", snap.SavedAt.Format("2006-01-02_15-04-05"), level, suffix)
	dir := filepath.Join(s.baseDir, "triage", day)
	path := filepath.Join(dir, name)

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := atomicWrite(dir, path, payload); err != nil {
		return "", err
	}

	if err := s.appendLog(snap); err != nil {
		return "", err
	}
	return path, nil
}

func (s *SnapshotStore) appendLog(snap domain.TurnSnapshot) error {
	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}

	s.logMu.Lock()
	defer s.logMu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.baseDir, "triage_log.ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open triage log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append triage log: %w", err)
	}
	return nil
}

func atomicWrite(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp_*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("move snapshot into place: %w", err)
	}
	return nil
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9\-_.]+`)
var slugDashes = regexp.MustCompile(`-{2,}`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugUnsafe.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "na"
	}
	return id
}
