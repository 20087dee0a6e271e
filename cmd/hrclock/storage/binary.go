package storage

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	binaryMagicNumber = uint32(0x4B435248) // "HRCK" little-endian
	binaryVersion     = uint32(1)
	binaryHeaderSize  = 8
	binaryFileName    = "samples.bin"
)

// BinaryStore implements SampleStore using fixed-size little-endian records
type BinaryStore struct {
	path        string
	file        *os.File
	session     *Session
	mu          sync.RWMutex
	sampleCount int64
	baseDir     string
}

// NewBinaryStore creates a new binary sample store
func NewBinaryStore(baseDir string, session *Session) (*BinaryStore, error) {
	sessionDir := filepath.Join(baseDir, session.ID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	filePath := filepath.Join(sessionDir, binaryFileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open binary file: %w", err)
	}

	store := &BinaryStore{
		path:    filePath,
		file:    file,
		session: session,
		baseDir: baseDir,
	}

	// Write header if file is empty
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if stat.Size() == 0 {
		if err := store.writeHeader(); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	return store, nil
}

// OpenBinaryStore opens an existing binary store, validating its header
func OpenBinaryStore(baseDir string, sessionID string) (*BinaryStore, error) {
	sessionDir := filepath.Join(baseDir, sessionID)
	session, err := loadSessionMetadata(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("load session metadata: %w", err)
	}

	filePath := filepath.Join(sessionDir, binaryFileName)
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open binary file: %w", err)
	}

	if err := readBinaryHeader(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	return &BinaryStore{
		path:        filePath,
		file:        file,
		session:     session,
		sampleCount: session.SampleCount,
		baseDir:     baseDir,
	}, nil
}

func (s *BinaryStore) writeHeader() error {
	if err := binary.Write(s.file, binary.LittleEndian, binaryMagicNumber); err != nil {
		return err
	}
	return binary.Write(s.file, binary.LittleEndian, binaryVersion)
}

func readBinaryHeader(r io.Reader) error {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if magic != binaryMagicNumber {
		return fmt.Errorf("invalid magic number: %x", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != binaryVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}
	return nil
}

func (s *BinaryStore) WriteSample(sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := binary.Write(s.file, binary.LittleEndian, sample); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	s.sampleCount++
	return nil
}

func (s *BinaryStore) WriteBatch(samples []*Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.file)
	for _, sample := range samples {
		if err := binary.Write(w, binary.LittleEndian, sample); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	s.sampleCount += int64(len(samples))
	return nil
}

func (s *BinaryStore) scan(ctx context.Context, fn func(*Sample) bool) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open binary file for reading: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	if err := readBinaryHeader(r); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var sample Sample
		if err := binary.Read(r, binary.LittleEndian, &sample); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read sample: %w", err)
		}

		if !fn(&sample) {
			return nil
		}
	}
}

func (s *BinaryStore) ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &collector{filter: filter}
	if err := s.scan(ctx, c.add); err != nil {
		return c.samples, err
	}

	return c.samples, nil
}

func (s *BinaryStore) Summary(ctx context.Context) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return summarize(ctx, s.scan)
}

func (s *BinaryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *BinaryStore) GetSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sessionCopy(s.session, s.sampleCount)
}

func (s *BinaryStore) UpdateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	sessionDir := filepath.Join(s.baseDir, session.ID)
	return saveSessionMetadata(sessionDir, session)
}
