package changelog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/rowstore"
)

// Entry is a committed record.
type Entry struct {
	Segment   uint32
	Timestamp time.Time
	Data      []byte
}

type ReadStats struct {
	Segments int
	Commits  int
	Records  int

	// Discarded counts uncommitted or damaged records dropped from the tail
	// of the last segment.
	Discarded int
}

// ReadCommits calls f with the records of each commit, in the order they
// were written. A damaged tail of the last segment is dropped silently (it
// is what a crash mid-write leaves behind); damage anywhere else fails with
// ErrCorrupted.
func ReadCommits(dir string, o Options, f func(batch []Entry) error) (ReadStats, error) {
	o.setDefaults()
	prefix, suffix, _ := strings.Cut(o.FileName, "*")

	var stats ReadStats
	names, err := listSegments(dir, prefix, suffix)
	if err != nil {
		return stats, err
	}
	for i, name := range names {
		if err := o.Context.Err(); err != nil {
			return stats, err
		}
		seq, _, err := parseSegmentName(strings.TrimPrefix(name, prefix))
		if err != nil {
			return stats, err
		}
		last := (i == len(names)-1)
		_, discarded, err := readSegment(filepath.Join(dir, name), seq, &stats, f)
		stats.Segments++
		var be *batchError
		if errors.As(err, &be) {
			return stats, be.err
		}
		if err != nil {
			if last && errors.Is(err, ErrCorrupted) {
				o.Logger.LogAttrs(o.Context, slog.LevelWarn, "changelog: dropping damaged tail",
					slog.String("jrnl", o.DebugName),
					slog.String("file", name),
					slog.Int("records", discarded),
					slog.Any("err", err))
				stats.Discarded += discarded
				break
			}
			return stats, fmt.Errorf("%s: %w", name, err)
		}
		stats.Discarded += discarded
	}
	return stats, nil
}

// readSegment returns the file offset just past the last valid commit (0 if
// the header is damaged) and the number of records after it.
func readSegment(path string, expectedSeq uint32, stats *ReadStats, f func(batch []Entry) error) (committed int64, pending int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()
	r := bufio.NewReader(file)

	var hash xxhash.Digest
	hash.Reset()
	h, err := readHeader(r, &hash, expectedSeq)
	if err != nil {
		return 0, 0, err
	}

	ts := h.Timestamp
	offset := int64(segmentHeaderSize)
	committed = offset
	var batch []Entry
	var hbuf [maxRecHeaderLen]byte
	for {
		first, err := r.Peek(1)
		if err == io.EOF {
			return committed, len(batch), nil
		} else if err != nil {
			return committed, len(batch), err
		}

		if first[0]&recordFlagCommit != 0 {
			var buf, want [8]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return committed, len(batch), corrupted("truncated commit")
			}
			putCommitMarker(want[:], &hash)
			if buf != want {
				return committed, len(batch), corrupted("commit checksum mismatch")
			}
			hash.Write(buf[:])
			offset += int64(len(buf))
			committed = offset

			if len(batch) > 0 {
				if err := f(batch); err != nil {
					return committed, 0, &batchError{err}
				}
				stats.Commits++
				stats.Records += len(batch)
				batch = nil
			}
			continue
		}

		sizeAndFlags, err := binary.ReadUvarint(r)
		if err != nil {
			return committed, len(batch), corrupted("truncated record header")
		}
		tsDelta, err := binary.ReadUvarint(r)
		if err != nil || tsDelta > 0xFFFF_FFFF {
			return committed, len(batch), corrupted("truncated record header")
		}
		size := sizeAndFlags >> recordFlagShift
		if size == 0 || size > maxRecordSize {
			return committed, len(batch), corrupted("invalid record size %d", size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return committed, len(batch), corrupted("truncated record")
		}
		rh := appendRecordHeader(hbuf[:0], int(size), uint32(tsDelta))
		hash.Write(rh)
		hash.Write(data)
		offset += int64(len(rh)) + int64(size)

		ts += uint32(tsDelta)
		batch = append(batch, Entry{
			Segment:   expectedSeq,
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Data:      data,
		})
	}
}

func readHeader(r io.Reader, hash *xxhash.Digest, expectedSeq uint32) (*segmentHeader, error) {
	var buf [segmentHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, corrupted("truncated segment header")
	}
	h := new(segmentHeader)
	n, err := binary.Decode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}
	if h.Magic != magic {
		return nil, ErrIncompatible
	}
	if h.Version > version0 {
		return nil, ErrUnsupportedVersion
	}
	hash.Write(buf[:segmentHeaderSize-8])
	if hash.Sum64() != h.Checksum {
		return nil, corrupted("segment header checksum mismatch")
	}
	hash.Write(buf[segmentHeaderSize-8:])
	if h.SegmentOrdinal != expectedSeq {
		return nil, corrupted("segment ordinal %d does not match file name", h.SegmentOrdinal)
	}
	return h, nil
}

// batchError carries an error returned by the caller's callback, so that it
// is never mistaken for a damaged tail.
type batchError struct {
	err error
}

func (e *batchError) Error() string {
	return e.err.Error()
}

func corrupted(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))
}

type ReplayStats struct {
	ReadStats
	Applied     int
	Checkpoints int
}

// Replay applies the logged changes in dir to m. The first record must be a
// checkpoint matching m's schema and row count; each checkpoint maps the
// logged row IDs onto m's rows in store order.
//
// Each commit is applied inside a changeset.
func Replay(dir string, m *rowstore.Model, o Options) (ReplayStats, error) {
	o.setDefaults()
	start := time.Now()
	var stats ReplayStats
	var ids map[uint64]rowstore.RowID

	read, err := ReadCommits(dir, o, func(batch []Entry) error {
		if len(batch) > 1 {
			m.BeginChangeset()
			defer m.EndChangeset()
		}
		for _, e := range batch {
			rec, err := decodeRecord(e.Data)
			if err != nil {
				return err
			}
			if rec.Kind == kindCheckpoint {
				ids, err = applyCheckpoint(m, rec)
				if err != nil {
					return err
				}
				stats.Checkpoints++
				continue
			}
			if ids == nil {
				return fmt.Errorf("%w: %v record before the first checkpoint", ErrIncompatible, rec.Kind)
			}
			if err := applyRecord(m, rec, ids); err != nil {
				return fmt.Errorf("segment %d, seq %d: %w", e.Segment, rec.Seqnum, err)
			}
			stats.Applied++
		}
		return nil
	})
	stats.ReadStats = read
	if err != nil {
		return stats, fmt.Errorf("%s: replay: %w", o.DebugName, err)
	}

	o.Logger.LogAttrs(context.Background(), slog.LevelInfo, "changelog: replayed",
		slog.String("jrnl", o.DebugName),
		slog.String("model", m.Name()),
		slog.Int("segments", stats.Segments),
		slog.Int("applied", stats.Applied),
		slog.Int("discarded", stats.Discarded),
		slog.Duration("elapsed", time.Since(start)))
	return stats, nil
}

func applyCheckpoint(m *rowstore.Model, rec *changeRecord) (map[uint64]rowstore.RowID, error) {
	if sig := m.Schema().Signature(); !slices.Equal(sig, rec.Schema) {
		return nil, fmt.Errorf("%w: logged schema %v, model has %v", ErrIncompatible, rec.Schema, sig)
	}
	if len(rec.Rows) != m.Len() {
		return nil, fmt.Errorf("%w: checkpoint at seq %d has %d rows, model has %d", ErrIncompatible, rec.Seqnum, len(rec.Rows), m.Len())
	}
	ids := make(map[uint64]rowstore.RowID, len(rec.Rows))
	var i int
	for id := range m.Rows() {
		ids[rec.Rows[i]] = id
		i++
	}
	return ids, nil
}

func applyRecord(m *rowstore.Model, rec *changeRecord, ids map[uint64]rowstore.RowID) error {
	switch rec.Kind {
	case kindAdd:
		var next rowstore.RowID
		if rec.Next != 0 {
			var found bool
			next, found = ids[rec.Next]
			if !found {
				return unknownRow(rec.Next)
			}
		}
		id, err := m.InsertBefore(next, rec.Values...)
		if err != nil {
			return err
		}
		ids[rec.Row] = id
	case kindChange:
		id, found := ids[rec.Row]
		if !found {
			return unknownRow(rec.Row)
		}
		if len(rec.Fields) != len(rec.Values) {
			return fmt.Errorf("%w: %d fields, %d values", ErrCorrupted, len(rec.Fields), len(rec.Values))
		}
		if isWholeRow(rec.Fields, m.Schema().Len()) {
			return m.SetRow(id, rec.Values...)
		}
		for i, pos := range rec.Fields {
			if err := m.SetField(id, pos, rec.Values[i]); err != nil {
				return err
			}
		}
	case kindRemove:
		id, found := ids[rec.Row]
		if !found {
			return unknownRow(rec.Row)
		}
		if err := m.Remove(id); err != nil {
			return err
		}
		delete(ids, rec.Row)
	default:
		return fmt.Errorf("%w: unknown record kind %v", ErrCorrupted, rec.Kind)
	}
	return nil
}

func isWholeRow(fields []int, n int) bool {
	if len(fields) != n {
		return false
	}
	for i, pos := range fields {
		if pos != i {
			return false
		}
	}
	return true
}

func unknownRow(id uint64) error {
	return fmt.Errorf("%w: logged row #%d", rowstore.ErrInvalidRow, id)
}

// Dump renders every committed record as text, one per line. Meant for
// debugging.
func Dump(dir string, o Options) (string, error) {
	var buf bytes.Buffer
	_, err := ReadCommits(dir, o, func(batch []Entry) error {
		for i, e := range batch {
			rec, err := decodeRecord(e.Data)
			if err != nil {
				return err
			}
			marker := ' '
			if i == len(batch)-1 {
				marker = '*'
			}
			fmt.Fprintf(&buf, "%d %s %c %s", e.Segment, e.Timestamp.Format(time.RFC3339), marker, rec.Kind)
			switch rec.Kind {
			case kindCheckpoint:
				fmt.Fprintf(&buf, " seq=%d rows=%d schema=%v", rec.Seqnum, len(rec.Rows), rec.Schema)
			default:
				fmt.Fprintf(&buf, " #%d seq=%d", rec.Row, rec.Seqnum)
				if rec.Next != 0 {
					fmt.Fprintf(&buf, " before=#%d", rec.Next)
				}
				if rec.Fields != nil {
					fmt.Fprintf(&buf, " fields=%v", rec.Fields)
				}
				if rec.Values != nil {
					fmt.Fprintf(&buf, " values=%v", rec.Values)
				}
			}
			buf.WriteByte('\n')
		}
		return nil
	})
	return buf.String(), err
}
