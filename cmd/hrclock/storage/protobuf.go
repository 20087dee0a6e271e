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

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	protobufFileName = "samples.pb"
	batchMarker      = uint32(0xFFFFFFFF)
)

// Wire layout of a sample message:
//
//	message Sample {
//	  uint64 seq       = 1;
//	  sint64 start     = 2;
//	  sint64 end       = 3;
//	  sint32 exit_code = 4;
//	}
//	message SampleBatch {
//	  repeated Sample samples = 1;
//	}
const (
	fieldSeq      protowire.Number = 1
	fieldStart    protowire.Number = 2
	fieldEnd      protowire.Number = 3
	fieldExitCode protowire.Number = 4

	fieldBatchSamples protowire.Number = 1
)

type ProtobufStore struct {
	baseDir     string
	sessionID   string
	file        *os.File
	writer      *bufio.Writer
	session     *Session
	sampleCount int64
	mu          sync.RWMutex
}

func NewProtobufStore(baseDir string, session *Session) (*ProtobufStore, error) {
	sessionDir := filepath.Join(baseDir, session.ID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	samplesPath := filepath.Join(sessionDir, protobufFileName)
	file, err := os.OpenFile(samplesPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create samples file: %w", err)
	}

	return &ProtobufStore{
		baseDir:   baseDir,
		sessionID: session.ID,
		file:      file,
		writer:    bufio.NewWriterSize(file, 64*1024),
		session:   session,
	}, nil
}

func OpenProtobufStore(baseDir, sessionID string) (*ProtobufStore, error) {
	sessionDir := filepath.Join(baseDir, sessionID)

	session, err := loadSessionMetadata(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("load session metadata: %w", err)
	}

	samplesPath := filepath.Join(sessionDir, protobufFileName)
	file, err := os.OpenFile(samplesPath, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open samples file: %w", err)
	}

	store := &ProtobufStore{
		baseDir:   baseDir,
		sessionID: sessionID,
		file:      file,
		writer:    bufio.NewWriterSize(file, 64*1024),
		session:   session,
	}

	count := int64(0)
	if err := store.scan(context.Background(), func(*Sample) bool { count++; return true }); err != nil {
		file.Close()
		return nil, fmt.Errorf("count samples: %w", err)
	}
	store.sampleCount = count

	return store, nil
}

func appendSample(b []byte, s *Sample) []byte {
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Seq)
	b = protowire.AppendTag(b, fieldStart, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.Start))
	b = protowire.AppendTag(b, fieldEnd, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.End))
	b = protowire.AppendTag(b, fieldExitCode, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(s.ExitCode)))
	return b
}

func consumeSample(b []byte) (*Sample, error) {
	s := &Sample{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldSeq:
			s.Seq = v
		case fieldStart:
			s.Start = protowire.DecodeZigZag(v)
		case fieldEnd:
			s.End = protowire.DecodeZigZag(v)
		case fieldExitCode:
			s.ExitCode = int32(protowire.DecodeZigZag(v))
		}
	}
	return s, nil
}

func consumeBatch(b []byte, fn func(*Sample) bool) (bool, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return false, protowire.ParseError(n)
		}
		b = b[n:]

		if num != fieldBatchSamples || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return false, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return false, protowire.ParseError(n)
		}
		b = b[n:]

		sample, err := consumeSample(msg)
		if err != nil {
			return false, err
		}
		if !fn(sample) {
			return false, nil
		}
	}
	return true, nil
}

func (s *ProtobufStore) WriteSample(sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := appendSample(nil, sample)

	lengthBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthBuf, uint32(len(data)))
	if _, err := s.writer.Write(lengthBuf); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush writer: %w", err)
	}

	s.sampleCount++
	return nil
}

func (s *ProtobufStore) WriteBatch(samples []*Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data, msg []byte
	for _, sample := range samples {
		msg = appendSample(msg[:0], sample)
		data = protowire.AppendTag(data, fieldBatchSamples, protowire.BytesType)
		data = protowire.AppendBytes(data, msg)
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[:4], batchMarker)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(data)))
	if _, err := s.writer.Write(header); err != nil {
		return fmt.Errorf("write batch header: %w", err)
	}

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush writer: %w", err)
	}

	s.sampleCount += int64(len(samples))
	return nil
}

func (s *ProtobufStore) scan(ctx context.Context, fn func(*Sample) bool) error {
	file, err := os.Open(filepath.Join(s.baseDir, s.sessionID, protobufFileName))
	if err != nil {
		return fmt.Errorf("open file for reading: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	lengthBuf := make([]byte, 4)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := io.ReadFull(reader, lengthBuf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read length: %w", err)
		}

		length := binary.LittleEndian.Uint32(lengthBuf)
		isBatch := length == batchMarker
		if isBatch {
			if _, err := io.ReadFull(reader, lengthBuf); err != nil {
				return fmt.Errorf("read batch length: %w", err)
			}
			length = binary.LittleEndian.Uint32(lengthBuf)
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(reader, data); err != nil {
			return fmt.Errorf("read record data: %w", err)
		}

		if isBatch {
			more, err := consumeBatch(data, fn)
			if err != nil {
				return fmt.Errorf("unmarshal batch: %w", err)
			}
			if !more {
				return nil
			}
			continue
		}

		sample, err := consumeSample(data)
		if err != nil {
			return fmt.Errorf("unmarshal sample: %w", err)
		}
		if !fn(sample) {
			return nil
		}
	}
}

func (s *ProtobufStore) ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &collector{filter: filter}
	if err := s.scan(ctx, c.add); err != nil {
		return c.samples, err
	}

	return c.samples, nil
}

func (s *ProtobufStore) Summary(ctx context.Context) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return summarize(ctx, s.scan)
}

func (s *ProtobufStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return fmt.Errorf("flush writer: %w", err)
		}
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
	}

	return nil
}

func (s *ProtobufStore) GetSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sessionCopy(s.session, s.sampleCount)
}

func (s *ProtobufStore) UpdateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	sessionDir := filepath.Join(s.baseDir, s.sessionID)
	return saveSessionMetadata(sessionDir, session)
}
