// Package changelog records the changes of a rowstore model in append-only,
// checksummed segment files, and replays them onto a model restored from a
// snapshot.
//
// Features:
//
//  1. Every committed batch ends with a running xxhash64 checksum of the
//     segment so far. A torn or damaged tail is detected and dropped on
//     replay.
//
//  2. A model changeset is one commit, so replay never observes half of a
//     changeset.
//
//  3. Segments are rotated at commit boundaries once they reach
//     Options.MaxFileSize.
//
// # File format
//
//   - file = segmentHeader (record* commit)*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 pad:32 ordinal:32 timestamp:32 reserved:64*4 checksum:64
//   - record = sizeAndFlags:uvarint timestampDelta:uvarint bytes*
//   - commit = checksum:64, with the lowest bit of the first byte set
//
// The lowest bit of a record's sizeAndFlags is always zero, which is how a
// reader tells records from commits.
package changelog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/rowstore"
)

var (
	ErrIncompatible       = errors.New("incompatible changelog")
	ErrUnsupportedVersion = errors.New("unsupported changelog version")
	ErrCorrupted          = errors.New("corrupted changelog segment")
	ErrClosed             = errors.New("changelog closed")
)

type Options struct {
	Context     context.Context
	FileName    string // e.g. "people-*.log"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time
	Logger      *slog.Logger
	Verbose     bool

	// NoSync skips fsync on commit. Meant for tests.
	NoSync bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const DefaultFileName = "changes-*.log"

const (
	magic          = 0x474f4c474e484352 // "RCHNGLOG" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 8 * 8

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              uint8
	Flags          uint16
	_              uint32
	SegmentOrdinal uint32
	Timestamp      uint32
	_              [4]uint64
	Checksum       uint64
}

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	timestampFmt          = "20060102T150405"

	maxRecordSize = 1 << 30
)

func (o *Options) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = DefaultFileName
	}
	if o.DebugName == "" {
		o.DebugName = "changelog"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Writer appends records to the segments in a directory. It is safe for
// concurrent use, although a model it is attached to is not.
type Writer struct {
	context     context.Context
	maxFileSize int64
	prefix      string
	suffix      string
	debugName   string
	dir         string
	now         func() time.Time
	logger      *slog.Logger
	verbose     bool
	noSync      bool

	mu     sync.Mutex
	err    error
	closed bool
	seg    uint32
	sw     *segmentWriter

	model *rowstore.Model
	sub   rowstore.SubscriptionID
	depth int
}

// Open prepares to append to the changelog in dir, creating the directory if
// needed. New records always go to a fresh segment after the existing ones.
//
// A damaged or uncommitted tail of the last segment, left by a crash, is cut
// off first, so that the segment stays readable once it is no longer last.
func Open(dir string, o Options) (*Writer, error) {
	o.setDefaults()
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	w := &Writer{
		context:     o.Context,
		maxFileSize: o.MaxFileSize,
		prefix:      prefix,
		suffix:      suffix,
		debugName:   o.DebugName,
		dir:         dir,
		now:         o.Now,
		logger:      o.Logger,
		verbose:     o.Verbose,
		noSync:      o.NoSync,
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("%v: %w", w.debugName, err)
	}
	if err := w.repairLastSegment(); err != nil {
		return nil, fmt.Errorf("%v: %w", w.debugName, err)
	}
	return w, nil
}

// repairLastSegment truncates the last segment to its last valid commit, or
// deletes it when nothing in it was committed, and sets w.seg.
func (w *Writer) repairLastSegment() error {
	for {
		names, err := listSegments(w.dir, w.prefix, w.suffix)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			w.seg = 0
			return nil
		}
		name := names[len(names)-1]
		seq, _, err := parseSegmentName(strings.TrimPrefix(name, w.prefix))
		if err != nil {
			return err
		}
		w.seg = seq

		path := filepath.Join(w.dir, name)
		var stats ReadStats
		committed, pending, err := readSegment(path, seq, &stats, func([]Entry) error { return nil })
		if err != nil && !errors.Is(err, ErrCorrupted) {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err == nil && pending == 0 {
			return nil
		}

		if stats.Commits == 0 {
			w.logger.LogAttrs(w.context, slog.LevelWarn, "changelog: deleting damaged segment",
				slog.String("jrnl", w.debugName),
				slog.String("file", name),
				slog.Any("err", err))
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to delete damaged segment: %w", err)
			}
			continue
		}
		w.logger.LogAttrs(w.context, slog.LevelWarn, "changelog: truncating damaged tail",
			slog.String("jrnl", w.debugName),
			slog.String("file", name),
			slog.Int64("size", committed),
			slog.Int("records", pending),
			slog.Any("err", err))
		if err := os.Truncate(path, committed); err != nil {
			return fmt.Errorf("failed to truncate damaged segment: %w", err)
		}
		return nil
	}
}

func (w *Writer) String() string {
	return w.debugName
}

// Now returns the current time as a record timestamp.
func (w *Writer) Now() uint32 {
	v := w.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

// Err returns the first write error. Once a write fails, the writer refuses
// further records.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// WriteRecord appends an uncommitted record. A zero timestamp means now.
func (w *Writer) WriteRecord(timestamp uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > maxRecordSize {
		return fmt.Errorf("%v: record of %d bytes is too large", w.debugName, len(data))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRecord_locked(timestamp, data)
}

func (w *Writer) writeRecord_locked(timestamp uint32, data []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return ErrClosed
	}
	if timestamp == 0 {
		timestamp = w.Now()
	}
	if w.sw == nil {
		w.seg++
		sw, err := startSegment(w, w.seg, timestamp)
		if err != nil {
			return w.fail(err)
		}
		w.sw = sw
	}
	return w.fail(w.sw.writeRecord(timestamp, data))
}

// Commit seals the records written since the previous commit.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commit_locked()
}

func (w *Writer) commit_locked() error {
	if w.err != nil {
		return w.err
	}
	if w.sw == nil {
		return nil
	}
	if err := w.sw.commit(!w.noSync); err != nil {
		return w.fail(err)
	}
	if w.sw.size >= w.maxFileSize {
		if w.verbose {
			w.logger.LogAttrs(w.context, slog.LevelDebug, "changelog: rotating", slog.String("jrnl", w.debugName), slog.Int64("size", w.sw.size))
		}
		w.sw.close()
		w.sw = nil
	}
	return nil
}

// Rotate closes the current segment, so that the next record starts a new
// one. Uncommitted records are committed first.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.commit_locked(); err != nil {
		return err
	}
	if w.sw != nil {
		w.sw.close()
		w.sw = nil
	}
	return nil
}

// Close detaches from the model, commits pending records and closes the
// current segment.
func (w *Writer) Close() error {
	w.Detach()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.err
	}
	err := w.commit_locked()
	if w.sw != nil {
		w.sw.close()
		w.sw = nil
	}
	w.closed = true
	return err
}

func (w *Writer) fail(err error) error {
	if err == nil {
		return nil
	}
	w.logger.LogAttrs(w.context, slog.LevelError, "changelog: failed", slog.String("jrnl", w.debugName), slog.Any("err", err))
	if w.sw != nil {
		w.sw.close()
		w.sw = nil
	}
	if w.err == nil {
		w.err = err
	}
	return err
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(w *Writer, seg, ts uint32) (*segmentWriter, error) {
	name := formatSegmentName(w.prefix, w.suffix, seg, ts)

	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], seg, ts, &sw.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	if w.verbose {
		w.logger.LogAttrs(w.context, slog.LevelDebug, "changelog: new segment", slog.String("jrnl", w.debugName), slog.String("file", name))
	}
	ok = true
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	if _, err := sw.f.Write(h); err != nil {
		return err
	}
	sw.hash.Write(data)
	if _, err := sw.f.Write(data); err != nil {
		return err
	}
	sw.size += int64(len(h) + len(data))
	return nil
}

func (sw *segmentWriter) commit(sync bool) error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [8]byte
	putCommitMarker(buf[:], &sw.hash)

	sw.hash.Write(buf[:])
	if _, err := sw.f.Write(buf[:]); err != nil {
		return err
	}
	sw.size += int64(len(buf))
	if sync {
		return fdatasync(sw.f)
	}
	return nil
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func putCommitMarker(buf []byte, hash *xxhash.Digest) {
	binary.LittleEndian.PutUint64(buf, hash.Sum64())
	buf[0] |= recordFlagCommit
}

func fillSegmentHeader(buf []byte, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Timestamp:      ts,
	}

	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s%s", prefix, seq, t.Format(timestampFmt), suffix)
}

// parseSegmentName parses a segment name with the file name prefix already
// removed; the suffix is ignored.
func parseSegmentName(name string) (seq, ts uint32, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	if len(rem) < len(timestampFmt) {
		return seq, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, rem[:len(timestampFmt)], time.UTC)
	if err != nil {
		return seq, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())
	return
}

// listSegments returns the segment file names in dir in ordinal order.
func listSegments(dir, prefix, suffix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		if _, _, err := parseSegmentName(strings.TrimPrefix(name, prefix)); err != nil {
			continue
		}
		names = append(names, name)
	}
	// zero-padded ordinals sort lexicographically; ReadDir returns names sorted
	return names, nil
}
