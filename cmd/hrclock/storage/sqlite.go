package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteFileName = "samples.db"

// SQLiteStore implements SampleStore using SQLite
type SQLiteStore struct {
	db          *sql.DB
	session     *Session
	mu          sync.RWMutex
	sampleCount int64
	baseDir     string
}

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seq INTEGER NOT NULL,
	start_ns INTEGER NOT NULL,
	end_ns INTEGER NOT NULL,
	exit_code INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_start ON samples(start_ns);
`

const insertSample = `INSERT INTO samples (seq, start_ns, end_ns, exit_code) VALUES (?, ?, ?, ?)`

// NewSQLiteStore creates a new SQLite sample store
func NewSQLiteStore(baseDir string, session *Session) (*SQLiteStore, error) {
	sessionDir := filepath.Join(baseDir, session.ID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(sessionDir, sqliteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		session: session,
		baseDir: baseDir,
	}, nil
}

// OpenSQLiteStore opens an existing SQLite store
func OpenSQLiteStore(baseDir string, sessionID string) (*SQLiteStore, error) {
	sessionDir := filepath.Join(baseDir, sessionID)

	session, err := loadSessionMetadata(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("load session metadata: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(sessionDir, sqliteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM samples").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count samples: %w", err)
	}

	return &SQLiteStore{
		db:          db,
		session:     session,
		sampleCount: count,
		baseDir:     baseDir,
	}, nil
}

func (s *SQLiteStore) WriteSample(sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(insertSample, sample.Seq, sample.Start, sample.End, sample.ExitCode)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	s.sampleCount++
	return nil
}

func (s *SQLiteStore) WriteBatch(samples []*Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSample)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.Exec(sample.Seq, sample.Start, sample.End, sample.ExitCode); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.sampleCount += int64(len(samples))
	return nil
}

func (s *SQLiteStore) ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT seq, start_ns, end_ns, exit_code FROM samples WHERE 1=1"
	args := []interface{}{}
	limit, offset := -1, 0

	if filter != nil {
		if filter.StartTime != nil {
			query += " AND start_ns >= ?"
			args = append(args, *filter.StartTime)
		}
		if filter.EndTime != nil {
			query += " AND start_ns <= ?"
			args = append(args, *filter.EndTime)
		}
		if filter.MinElapsed != nil {
			query += " AND end_ns - start_ns >= ?"
			args = append(args, *filter.MinElapsed)
		}
		if filter.ExitCode != nil {
			query += " AND exit_code = ?"
			args = append(args, *filter.ExitCode)
		}
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		if filter.Offset > 0 {
			offset = filter.Offset
		}
	}

	query += " ORDER BY id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		var sample Sample
		if err := rows.Scan(&sample.Seq, &sample.Start, &sample.End, &sample.ExitCode); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, &sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return samples, nil
}

func (s *SQLiteStore) Summary(ctx context.Context) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT start_ns, end_ns FROM samples ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	sum := &Summary{}
	for rows.Next() {
		var sample Sample
		if err := rows.Scan(&sample.Start, &sample.End); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := sum.add(&sample); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	return sum, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) GetSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sessionCopy(s.session, s.sampleCount)
}

func (s *SQLiteStore) UpdateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	sessionDir := filepath.Join(s.baseDir, session.ID)
	return saveSessionMetadata(sessionDir, session)
}
