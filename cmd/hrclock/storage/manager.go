package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	FormatJSONL    = "jsonl"
	FormatProtobuf = "protobuf"
	FormatBinary   = "binary"
	FormatSQLite   = "sqlite"
)

var formatFiles = map[string]string{
	FormatProtobuf: protobufFileName,
	FormatJSONL:    jsonlFileName,
	FormatBinary:   binaryFileName,
	FormatSQLite:   sqliteFileName,
}

// NormalizeFormat maps format aliases ("pb", "json", "db", ...) to one of
// the Format constants.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jsonl", "json":
		return FormatJSONL, nil
	case "protobuf", "pb", "proto":
		return FormatProtobuf, nil
	case "binary", "bin":
		return FormatBinary, nil
	case "sqlite", "sqlite3", "db":
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("%w: %s (supported: jsonl, protobuf, binary, sqlite)", ErrUnknownFormat, format)
	}
}

type Manager struct {
	baseDir string
	mu      sync.RWMutex
}

func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &Manager{
		baseDir: baseDir,
	}, nil
}

// sessionDir rejects anything that is not a UUID so ids cannot escape
// baseDir.
func (m *Manager) sessionDir(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return filepath.Join(m.baseDir, id), nil
}

func (m *Manager) ListSessions(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		session, err := loadSessionMetadata(filepath.Join(m.baseDir, entry.Name()))
		if err != nil {
			continue
		}

		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	return sessions, nil
}

func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir, err := m.sessionDir(id)
	if err != nil {
		return nil, err
	}
	return loadSessionMetadata(dir)
}

func (m *Manager) OpenSession(ctx context.Context, id string) (SampleStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir, err := m.sessionDir(id)
	if err != nil {
		return nil, err
	}

	session, err := loadSessionMetadata(dir)
	if err != nil {
		return nil, err
	}

	format := session.Format
	if format == "" {
		for f, name := range formatFiles {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				format = f
				break
			}
		}
	}

	switch format {
	case FormatJSONL:
		return OpenJSONLStore(m.baseDir, id)
	case FormatProtobuf:
		return OpenProtobufStore(m.baseDir, id)
	case FormatBinary:
		return OpenBinaryStore(m.baseDir, id)
	case FormatSQLite:
		return OpenSQLiteStore(m.baseDir, id)
	default:
		return nil, fmt.Errorf("no sample store found for session %s", id)
	}
}

// CreateSession persists session metadata and returns a store for its
// samples. An empty ID or zero StartTime is filled in.
func (m *Manager) CreateSession(ctx context.Context, session *Session, format string) (SampleStore, error) {
	format, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartTime.IsZero() {
		session.StartTime = time.Now()
	}
	session.Format = format

	dir, err := m.sessionDir(session.ID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	if err := saveSessionMetadata(dir, session); err != nil {
		return nil, fmt.Errorf("save session metadata: %w", err)
	}

	switch format {
	case FormatJSONL:
		return NewJSONLStore(m.baseDir, session)
	case FormatProtobuf:
		return NewProtobufStore(m.baseDir, session)
	case FormatBinary:
		return NewBinaryStore(m.baseDir, session)
	default:
		return NewSQLiteStore(m.baseDir, session)
	}
}

func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.sessionDir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return os.RemoveAll(dir)
}

func (m *Manager) Close() error {
	return nil
}
