package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrUnknownFormat    = errors.New("unknown storage format")
	ErrInvalidSample    = errors.New("invalid sample")
	ErrSummaryOverflow  = errors.New("summary overflows int64 nanoseconds")
)

// Sample is one measured interval. Start and End are monotonic clock
// readings in nanoseconds.
type Sample struct {
	Seq      uint64 `json:"seq"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	ExitCode int32  `json:"exit_code"`
}

// Elapsed returns End-Start in nanoseconds.
func (s *Sample) Elapsed() int64 {
	return s.End - s.Start
}

// Validate rejects samples whose End-Start does not fit in an int64.
func (s *Sample) Validate() error {
	if (s.End-s.Start < 0) != (s.End < s.Start) {
		return fmt.Errorf("%w: seq %d: end-start overflows", ErrInvalidSample, s.Seq)
	}
	return nil
}

type Session struct {
	ID          string     `json:"id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Command     string     `json:"command"`
	Unit        string     `json:"unit"`
	Format      string     `json:"format"`
	SampleCount int64      `json:"sample_count"`
}

// SampleFilter selects samples. StartTime and EndTime bound Sample.Start.
// Offset and Limit count matching samples only.
type SampleFilter struct {
	StartTime  *int64
	EndTime    *int64
	MinElapsed *int64
	ExitCode   *int32
	Limit      int
	Offset     int
}

func (f *SampleFilter) match(s *Sample) bool {
	if f == nil {
		return true
	}
	if f.StartTime != nil && s.Start < *f.StartTime {
		return false
	}
	if f.EndTime != nil && s.Start > *f.EndTime {
		return false
	}
	if f.MinElapsed != nil && s.Elapsed() < *f.MinElapsed {
		return false
	}
	if f.ExitCode != nil && s.ExitCode != *f.ExitCode {
		return false
	}
	return true
}

// collector applies a filter's offset and limit while samples stream in.
type collector struct {
	filter  *SampleFilter
	skipped int
	samples []*Sample
}

// add reports false once the limit is reached.
func (c *collector) add(s *Sample) bool {
	if !c.filter.match(s) {
		return true
	}
	if c.filter != nil && c.skipped < c.filter.Offset {
		c.skipped++
		return true
	}
	c.samples = append(c.samples, s)
	return c.filter == nil || c.filter.Limit <= 0 || len(c.samples) < c.filter.Limit
}

// Summary aggregates the elapsed time of every sample in a session.
type Summary struct {
	Count   int64   `json:"count"`
	TotalNs int64   `json:"total_ns"`
	MinNs   int64   `json:"min_ns"`
	MaxNs   int64   `json:"max_ns"`
	MeanNs  float64 `json:"mean_ns"`
}

func (s *Summary) add(sample *Sample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	elapsed := sample.Elapsed()
	total := s.TotalNs + elapsed
	if (elapsed > 0 && total < s.TotalNs) || (elapsed < 0 && total > s.TotalNs) {
		return fmt.Errorf("%w: after %d samples", ErrSummaryOverflow, s.Count)
	}

	if s.Count == 0 {
		s.MinNs, s.MaxNs = elapsed, elapsed
	} else {
		s.MinNs = min(s.MinNs, elapsed)
		s.MaxNs = max(s.MaxNs, elapsed)
	}
	s.Count++
	s.TotalNs = total
	s.MeanNs = float64(s.TotalNs) / float64(s.Count)
	return nil
}

// summarize folds every sample produced by scan into a Summary.
func summarize(ctx context.Context, scan func(context.Context, func(*Sample) bool) error) (*Summary, error) {
	sum := &Summary{}
	var addErr error
	err := scan(ctx, func(sample *Sample) bool {
		addErr = sum.add(sample)
		return addErr == nil
	})
	if err != nil {
		return nil, err
	}
	if addErr != nil {
		return nil, addErr
	}
	return sum, nil
}

type SampleStore interface {
	WriteSample(sample *Sample) error
	WriteBatch(samples []*Sample) error
	ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error)
	Summary(ctx context.Context) (*Summary, error)
	Close() error
	GetSession() *Session
	UpdateSession(session *Session) error
}

type SessionStore interface {
	ListSessions(ctx context.Context) ([]*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	OpenSession(ctx context.Context, id string) (SampleStore, error)
	CreateSession(ctx context.Context, session *Session, format string) (SampleStore, error)
	DeleteSession(ctx context.Context, id string) error
	io.Closer
}

// sessionCopy returns session with SampleCount replaced by count.
func sessionCopy(session *Session, count int64) *Session {
	if session == nil {
		return nil
	}
	c := *session
	c.SampleCount = count
	return &c
}

func saveSessionMetadata(sessionDir string, session *Session) error {
	metadataPath := filepath.Join(sessionDir, "metadata.json")
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	if err := os.WriteFile(metadataPath, data, 0644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}

	return nil
}

func loadSessionMetadata(sessionDir string) (*Session, error) {
	metadataPath := filepath.Join(sessionDir, "metadata.json")
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, filepath.Base(sessionDir))
		}
		return nil, fmt.Errorf("read session metadata: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session metadata: %w", err)
	}

	return &session, nil
}
