package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const jsonlFileName = "samples.jsonl"

// JSONLStore implements SampleStore using JSON Lines format
type JSONLStore struct {
	path        string
	file        *os.File
	writer      *bufio.Writer
	session     *Session
	mu          sync.RWMutex
	sampleCount int64
	baseDir     string
}

// NewJSONLStore creates a new JSONL sample store
func NewJSONLStore(baseDir string, session *Session) (*JSONLStore, error) {
	sessionDir := filepath.Join(baseDir, session.ID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return openJSONL(baseDir, session, 0)
}

// OpenJSONLStore opens an existing JSONL store. Appends go to the end of the
// file.
func OpenJSONLStore(baseDir string, sessionID string) (*JSONLStore, error) {
	session, err := loadSessionMetadata(filepath.Join(baseDir, sessionID))
	if err != nil {
		return nil, fmt.Errorf("load session metadata: %w", err)
	}

	return openJSONL(baseDir, session, session.SampleCount)
}

func openJSONL(baseDir string, session *Session, count int64) (*JSONLStore, error) {
	filePath := filepath.Join(baseDir, session.ID, jsonlFileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}

	return &JSONLStore{
		path:        filePath,
		file:        file,
		writer:      bufio.NewWriter(file),
		session:     session,
		sampleCount: count,
		baseDir:     baseDir,
	}, nil
}

func (s *JSONLStore) writeLine(sample *Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	s.sampleCount++
	return nil
}

func (s *JSONLStore) WriteSample(sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLine(sample); err != nil {
		return err
	}

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush writer: %w", err)
	}

	return nil
}

func (s *JSONLStore) WriteBatch(samples []*Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range samples {
		if err := s.writeLine(sample); err != nil {
			return err
		}
	}

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush writer: %w", err)
	}

	return nil
}

func (s *JSONLStore) scan(ctx context.Context, fn func(*Sample) bool) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open jsonl file for reading: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var sample Sample
		if err := json.Unmarshal(scanner.Bytes(), &sample); err != nil {
			return fmt.Errorf("unmarshal sample: %w", err)
		}

		if !fn(&sample) {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan file: %w", err)
	}

	return nil
}

func (s *JSONLStore) ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &collector{filter: filter}
	if err := s.scan(ctx, c.add); err != nil {
		return c.samples, err
	}

	return c.samples, nil
}

func (s *JSONLStore) Summary(ctx context.Context) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return summarize(ctx, s.scan)
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}

	if s.file != nil {
		return s.file.Close()
	}

	return nil
}

func (s *JSONLStore) GetSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sessionCopy(s.session, s.sampleCount)
}

func (s *JSONLStore) UpdateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	sessionDir := filepath.Join(s.baseDir, session.ID)
	return saveSessionMetadata(sessionDir, session)
}
