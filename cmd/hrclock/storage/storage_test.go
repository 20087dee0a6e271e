package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allFormats = []string{FormatJSONL, FormatProtobuf, FormatBinary, FormatSQLite}

func testSamples() []*Sample {
	return []*Sample{
		{Seq: 1, Start: 1_000, End: 6_000, ExitCode: 0},
		{Seq: 2, Start: 10_000, End: 12_000, ExitCode: 1},
		{Seq: 3, Start: 20_000, End: 29_000, ExitCode: 0},
		{Seq: 4, Start: 30_000, End: 29_500, ExitCode: -1},
	}
}

func int64p(v int64) *int64 { return &v }
func int32p(v int32) *int32 { return &v }

func seqs(samples []*Sample) []uint64 {
	out := make([]uint64, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Seq)
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, format := range allFormats {
		t.Run(format, func(t *testing.T) {
			m, err := NewManager(t.TempDir())
			require.NoError(t, err)

			session := &Session{Command: "sleep 0", Unit: "ms"}
			store, err := m.CreateSession(ctx, session, format)
			require.NoError(t, err)
			require.NotEmpty(t, session.ID)
			assert.Equal(t, format, session.Format)

			samples := testSamples()
			require.NoError(t, store.WriteSample(samples[0]))
			require.NoError(t, store.WriteBatch(samples[1:]))
			assert.Equal(t, int64(4), store.GetSession().SampleCount)

			got, err := store.ReadSamples(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, samples, got)

			sum, err := store.Summary(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(4), sum.Count)
			assert.Equal(t, int64(5_000+2_000+9_000-500), sum.TotalNs)
			assert.Equal(t, int64(-500), sum.MinNs)
			assert.Equal(t, int64(9_000), sum.MaxNs)
			assert.InDelta(t, float64(15_500)/4, sum.MeanNs, 0.001)

			require.NoError(t, store.UpdateSession(store.GetSession()))
			require.NoError(t, store.Close())

			reopened, err := m.OpenSession(ctx, session.ID)
			require.NoError(t, err)
			defer reopened.Close()
			assert.Equal(t, int64(4), reopened.GetSession().SampleCount)

			require.NoError(t, reopened.WriteSample(&Sample{Seq: 5, Start: 40_000, End: 41_000}))
			got, err = reopened.ReadSamples(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs(got))
			assert.Equal(t, int64(5), reopened.GetSession().SampleCount)
		})
	}
}

func TestStoreFilter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		filter *SampleFilter
		want   []uint64
	}{
		{"nil filter", nil, []uint64{1, 2, 3, 4}},
		{"empty filter", &SampleFilter{}, []uint64{1, 2, 3, 4}},
		{"start time", &SampleFilter{StartTime: int64p(10_000)}, []uint64{2, 3, 4}},
		{"end time", &SampleFilter{EndTime: int64p(20_000)}, []uint64{1, 2, 3}},
		{"time window", &SampleFilter{StartTime: int64p(5_000), EndTime: int64p(25_000)}, []uint64{2, 3}},
		{"min elapsed", &SampleFilter{MinElapsed: int64p(5_000)}, []uint64{1, 3}},
		{"exit code", &SampleFilter{ExitCode: int32p(0)}, []uint64{1, 3}},
		{"limit", &SampleFilter{Limit: 2}, []uint64{1, 2}},
		{"offset", &SampleFilter{Offset: 3}, []uint64{4}},
		{"offset past end", &SampleFilter{Offset: 10}, nil},
		{"offset counts matches only", &SampleFilter{ExitCode: int32p(0), Offset: 1}, []uint64{3}},
		{"limit and offset", &SampleFilter{Limit: 2, Offset: 1}, []uint64{2, 3}},
	}

	for _, format := range allFormats {
		t.Run(format, func(t *testing.T) {
			m, err := NewManager(t.TempDir())
			require.NoError(t, err)

			store, err := m.CreateSession(ctx, &Session{}, format)
			require.NoError(t, err)
			defer store.Close()
			require.NoError(t, store.WriteBatch(testSamples()))

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := store.ReadSamples(ctx, tt.filter)
					require.NoError(t, err)
					if tt.want == nil {
						assert.Empty(t, got)
						return
					}
					assert.Equal(t, tt.want, seqs(got))
				})
			}
		})
	}
}

func TestEmptySummary(t *testing.T) {
	ctx := context.Background()

	for _, format := range allFormats {
		t.Run(format, func(t *testing.T) {
			m, err := NewManager(t.TempDir())
			require.NoError(t, err)

			store, err := m.CreateSession(ctx, &Session{}, format)
			require.NoError(t, err)
			defer store.Close()

			sum, err := store.Summary(ctx)
			require.NoError(t, err)
			assert.Equal(t, &Summary{}, sum)
		})
	}
}

func TestSummaryOverflow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		samples []*Sample
		wantErr error
	}{
		{
			name:    "elapsed overflows",
			samples: []*Sample{{Seq: 1, Start: math.MinInt64, End: math.MaxInt64}},
			wantErr: ErrInvalidSample,
		},
		{
			name:    "total overflows",
			samples: []*Sample{{Seq: 1, Start: 0, End: math.MaxInt64}, {Seq: 2, Start: 0, End: 1}},
			wantErr: ErrSummaryOverflow,
		},
		{
			name:    "negative total overflows",
			samples: []*Sample{{Seq: 1, Start: 0, End: math.MinInt64 + 1}, {Seq: 2, Start: 2, End: 0}},
			wantErr: ErrSummaryOverflow,
		},
	}

	for _, tt := range tests {
		for _, format := range allFormats {
			t.Run(tt.name+"/"+format, func(t *testing.T) {
				m, err := NewManager(t.TempDir())
				require.NoError(t, err)

				store, err := m.CreateSession(ctx, &Session{}, format)
				require.NoError(t, err)
				defer store.Close()
				require.NoError(t, store.WriteBatch(tt.samples))

				_, err = store.Summary(ctx)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
	}
}

func TestSampleValidate(t *testing.T) {
	assert.NoError(t, (&Sample{Start: 10, End: 5}).Validate())
	assert.NoError(t, (&Sample{Start: 0, End: math.MaxInt64}).Validate())
	assert.NoError(t, (&Sample{Start: -1, End: math.MaxInt64 - 1}).Validate())
	assert.ErrorIs(t, (&Sample{Start: -1, End: math.MaxInt64}).Validate(), ErrInvalidSample)
	assert.ErrorIs(t, (&Sample{Start: 1, End: math.MinInt64}).Validate(), ErrInvalidSample)
}

func TestReadSamplesCancelled(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	store, err := m.CreateSession(context.Background(), &Session{}, FormatJSONL)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.WriteBatch(testSamples()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.ReadSamples(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerSessions(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	first := &Session{StartTime: time.Now().Add(-time.Minute), Command: "first"}
	second := &Session{StartTime: time.Now(), Command: "second"}
	for _, s := range []*Session{second, first} {
		store, err := m.CreateSession(ctx, s, "json")
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}

	sessions, err := m.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "first", sessions[0].Command)
	assert.Equal(t, "second", sessions[1].Command)

	got, err := m.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, got.Format)

	require.NoError(t, m.DeleteSession(ctx, first.ID))
	_, err = m.GetSession(ctx, first.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.DeleteSession(ctx, first.ID), ErrSessionNotFound)

	sessions, err = m.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestManagerRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.CreateSession(ctx, &Session{}, "xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = m.CreateSession(ctx, &Session{ID: "../escape"}, FormatJSONL)
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = m.GetSession(ctx, "../../etc")
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = m.OpenSession(ctx, "2b1d6d3e-4a8e-4c39-9a55-6c1f0f3b7a10")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]string{
		"jsonl": FormatJSONL, "JSON": FormatJSONL,
		"pb": FormatProtobuf, "proto": FormatProtobuf,
		"bin": FormatBinary, " binary ": FormatBinary,
		"db": FormatSQLite, "sqlite3": FormatSQLite,
	}
	for in, want := range tests {
		got, err := NormalizeFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeFormat("csv")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestProtobufWireCompat(t *testing.T) {
	in := &Sample{Seq: 7, Start: -3, End: 1 << 40, ExitCode: -2}
	out, err := consumeSample(appendSample(nil, in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = consumeSample([]byte{0x08})
	assert.Error(t, err, "truncated varint")
}
