package changelog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/rowstore"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func testOptions(clock *fakeClock) Options {
	return Options{
		Now:    clock.Now,
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		NoSync: true,
	}
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func newModel(t testing.TB, rows ...[]any) *rowstore.Model {
	t.Helper()
	m := rowstore.NewModel(rowstore.MustParseSchema("i", "s"), rowstore.Options{Name: "people"})
	for _, r := range rows {
		_, err := m.Append(r...)
		require.NoError(t, err)
	}
	return m
}

func contents(t testing.TB, m *rowstore.Model) [][]any {
	t.Helper()
	var result [][]any
	for _, row := range m.All() {
		vals, err := row.Values()
		require.NoError(t, err)
		result = append(result, vals)
	}
	return result
}

// cloneModel stands in for a snapshot taken right before attaching.
func cloneModel(t testing.TB, m *rowstore.Model) *rowstore.Model {
	t.Helper()
	c := rowstore.NewModel(m.Schema(), rowstore.Options{Name: m.Name()})
	for _, vals := range contents(t, m) {
		_, err := c.Append(vals...)
		require.NoError(t, err)
	}
	c.SetSeqnum(m.Seqnum())
	return c
}

func TestWriter_RecordsAndReplays(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	opt := testOptions(clock)

	m := newModel(t, []any{1, "one"}, []any{2, "two"}, []any{3, "three"})
	require.NoError(t, m.Remove(2))
	base := cloneModel(t, m)

	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))

	id4, _ := m.Append(4, "four")
	clock.Advance(90 * time.Second)
	_, _ = m.InsertBefore(id4, 5, "five")
	_, _ = m.Prepend(0, "zero")
	require.NoError(t, m.SetField(1, 1, "uno"))
	m.BeginChangeset()
	require.NoError(t, m.SetRow(3, 33, "thirty-three"))
	require.NoError(t, m.Remove(id4))
	m.EndChangeset()
	require.NoError(t, w.Close())
	require.NoError(t, w.Err())

	// changes after Close are not logged
	_, _ = m.Append(6, "six")
	require.NoError(t, m.Remove(m.Last()))

	stats, err := Replay(dir, base, opt)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Checkpoints)
	assert.Equal(t, 6, stats.Applied)
	assert.Equal(t, 6, stats.Commits)
	assert.Zero(t, stats.Discarded)

	assert.Equal(t, contents(t, m), contents(t, base))
	assert.Equal(t, [][]any{
		{int32(0), "zero"},
		{int32(1), "uno"},
		{int32(33), "thirty-three"},
		{int32(5), "five"},
	}, contents(t, base))
}

func TestReplay_KeepsIndexesInSync(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(newClock())

	m := newModel(t, []any{1, "ant"})
	base := cloneModel(t, m)
	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	_, _ = m.Append(2, "apple")
	_, _ = m.Append(3, "banana")
	require.NoError(t, w.Close())

	base = rowstore.NewModel(base.Schema(), rowstore.Options{Name: "people", Strict: true})
	_, err = base.Append(1, "ant")
	require.NoError(t, err)
	idx := rowstore.NewTreeIndex(base, rowstore.ColumnExtractor(1))

	_, err = Replay(dir, base, opt)
	require.NoError(t, err)
	assert.Len(t, idx.LookupRange(rowstore.PrefixRange("a")), 2)
	require.NoError(t, idx.Verify())
}

func TestWriter_ReattachAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	opt := testOptions(clock)

	m := newModel(t, []any{1, "one"})
	base := cloneModel(t, m)

	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	_, _ = m.Append(2, "two")
	require.NoError(t, w.Close())

	// a new session restores the model (fresh RowIDs) and keeps logging
	clock.Advance(time.Hour)
	m2 := cloneModel(t, m)
	w, err = Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m2))
	require.NoError(t, m2.SetField(m2.Last(), 1, "deux"))
	require.NoError(t, m2.Remove(m2.First()))
	require.NoError(t, w.Close())

	names, err := listSegments(dir, "changes-", ".log")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"changes-000000000001-20240101T000000.log",
		"changes-000000000002-20240101T010000.log",
	}, names)

	stats, err := Replay(dir, base, opt)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Checkpoints)
	assert.Equal(t, 2, stats.Segments)
	assert.Equal(t, [][]any{{int32(2), "deux"}}, contents(t, base))
}

func TestWriter_Rotation(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(newClock())
	opt.MaxFileSize = 200
	opt.FileName = "people-*.wal"

	m := newModel(t)
	base := cloneModel(t, m)
	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	for i := range 50 {
		_, err := m.Append(i, strings.Repeat("x", i))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	names, err := listSegments(dir, "people-", ".wal")
	require.NoError(t, err)
	assert.Greater(t, len(names), 5)

	stats, err := Replay(dir, base, opt)
	require.NoError(t, err)
	assert.Equal(t, len(names), stats.Segments)
	assert.Equal(t, 50, base.Len())
	assert.Equal(t, contents(t, m), contents(t, base))
}

func TestReplay_DropsDamagedTail(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(newClock())

	m := newModel(t)
	base := cloneModel(t, m)
	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	_, _ = m.Append(1, "one")
	_, _ = m.Append(2, "two")
	require.NoError(t, w.Close())

	// simulate a crash in the middle of writing the last commit
	path := filepath.Join(dir, "changes-000000000001-20240101T000000.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o666))

	stats, err := Replay(dir, base, opt)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Discarded)
	assert.Equal(t, [][]any{{int32(1), "one"}}, contents(t, base))
}

func TestOpen_RepairsTailLeftByCrash(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	opt := testOptions(clock)

	m := newModel(t)
	base := cloneModel(t, m)
	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	_, _ = m.Append(1, "one")
	_, _ = m.Append(2, "two")
	require.NoError(t, w.Close())

	first := filepath.Join(dir, "changes-000000000001-20240101T000000.log")
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(first, data[:len(data)-3], 0o666))

	restored := cloneModel(t, base)
	_, err = Replay(dir, restored, opt)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int32(1), "one"}}, contents(t, restored))

	// the next session starts from the recovered state
	clock.Advance(time.Minute)
	m2 := cloneModel(t, restored)
	w, err = Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m2))
	_, _ = m2.Append(4, "four")
	require.NoError(t, w.Close())

	fi, err := os.Stat(first)
	require.NoError(t, err)
	assert.Less(t, fi.Size(), int64(len(data)-3))

	final := cloneModel(t, base)
	stats, err := Replay(dir, final, opt)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Segments)
	assert.Equal(t, 2, stats.Checkpoints)
	assert.Zero(t, stats.Discarded)
	assert.Equal(t, [][]any{{int32(1), "one"}, {int32(4), "four"}}, contents(t, final))
}

func TestOpen_DeletesSegmentWithNothingCommitted(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(newClock())

	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(newModel(t, []any{1, "one"})))
	require.NoError(t, w.Close())

	names, err := listSegments(dir, "changes-", ".log")
	require.NoError(t, err)
	require.Len(t, names, 1)
	path := filepath.Join(dir, names[0])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:segmentHeaderSize+2], 0o666))

	w, err = Open(dir, opt)
	require.NoError(t, err)
	defer w.Close()
	assert.NoFileExists(t, path)
	assert.Equal(t, uint32(0), w.seg)
}

func TestOpen_KeepsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changes-000000000001-20240101T000000.log")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, segmentHeaderSize+10), 0o666))

	_, err := Open(dir, testOptions(newClock()))
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.FileExists(t, path)
}

func TestReplay_CorruptedEarlierSegmentFails(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(newClock())

	m := newModel(t)
	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	_, _ = m.Append(1, "one")
	require.NoError(t, w.Rotate())
	_, _ = m.Append(2, "two")
	require.NoError(t, w.Close())

	names, err := listSegments(dir, "changes-", ".log")
	require.NoError(t, err)
	require.Len(t, names, 2)

	path := filepath.Join(dir, names[0])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[segmentHeaderSize+4] ^= 0x10
	require.NoError(t, os.WriteFile(path, data, 0o666))

	_, err = Replay(dir, newModel(t), opt)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestReplay_Incompatible(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(newClock())

	m := newModel(t, []any{1, "one"})
	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	require.NoError(t, w.Close())

	_, err = Replay(dir, newModel(t), opt)
	assert.ErrorIs(t, err, ErrIncompatible)

	other := rowstore.NewModel(rowstore.MustParseSchema("s"), rowstore.Options{})
	_, _ = other.Append("x")
	_, err = Replay(dir, other, opt)
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestWriter_AttachTwice(t *testing.T) {
	w, err := Open(t.TempDir(), testOptions(newClock()))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Attach(newModel(t)))
	assert.Error(t, w.Attach(newModel(t)))

	w.Detach()
	require.NoError(t, w.Attach(newModel(t)))
}

func TestWriter_CommitFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, testOptions(newClock()))
	require.NoError(t, err)

	m := newModel(t)
	require.NoError(t, w.Attach(m))
	m.BeginChangeset()
	_, _ = m.Append(1, "one")
	require.NoError(t, w.Err())
	require.NoError(t, w.sw.f.Close())
	m.EndChangeset()

	require.Error(t, w.Err())
	_, _ = m.Append(2, "two")
	assert.Error(t, w.Close())
}

func TestWriter_RawRecords(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	w, err := Open(dir, testOptions(clock))
	require.NoError(t, err)

	require.NoError(t, w.WriteRecord(0, []byte("hello")))
	require.NoError(t, w.WriteRecord(0, nil))
	clock.Advance(1000 * time.Second)
	require.NoError(t, w.WriteRecord(0, []byte("world")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.WriteRecord(0, []byte("!")))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteRecord(0, []byte("late")), ErrClosed)

	var batches [][]string
	var stamps []time.Time
	stats, err := ReadCommits(dir, testOptions(clock), func(batch []Entry) error {
		var b []string
		for _, e := range batch {
			b = append(b, string(e.Data))
			stamps = append(stamps, e.Timestamp)
		}
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"hello", "world"}, {"!"}}, batches)
	assert.Equal(t, 2, stats.Commits)
	assert.Equal(t, 3, stats.Records)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{t0, t0.Add(1000 * time.Second), t0.Add(1000 * time.Second)}, stamps)
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	opt := testOptions(newClock())
	m := newModel(t, []any{1, "one"})
	w, err := Open(dir, opt)
	require.NoError(t, err)
	require.NoError(t, w.Attach(m))
	m.BeginChangeset()
	_, _ = m.Prepend(0, "zero")
	require.NoError(t, m.SetField(1, 1, "uno"))
	m.EndChangeset()
	require.NoError(t, w.Close())

	out, err := Dump(dir, opt)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"1 2024-01-01T00:00:00Z * checkpoint seq=1 rows=1 schema=[i s]",
		"1 2024-01-01T00:00:00Z   add #2 seq=2 before=#1 values=[0 zero]",
		"1 2024-01-01T00:00:00Z * change #1 seq=3 fields=[1] values=[uno]",
	}, lines)
}

func TestParseSegmentName(t *testing.T) {
	seq, ts, err := parseSegmentName("000000000042-20240101T000100.log")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), seq)
	assert.Equal(t, uint32(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC).Unix()), ts)

	for _, bad := range []string{"", "x-20240101T000000", "1-2024", "1-notatimestampxx"} {
		_, _, err := parseSegmentName(bad)
		assert.Error(t, err, bad)
	}
	assert.True(t, slices.IsSorted([]string{
		formatSegmentName("p-", ".log", 9, 0),
		formatSegmentName("p-", ".log", 10, 0),
	}))
}
