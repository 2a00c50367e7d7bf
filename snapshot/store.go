package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/andreyvit/rowstore"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

type Options struct {
	// Logger receives save/load summaries. Defaults to slog.Default().
	Logger *slog.Logger

	// Uncompressed stores payloads without zstd compression.
	Uncompressed bool

	// CompressionLevel defaults to zstd.SpeedDefault.
	CompressionLevel zstd.EncoderLevel

	// Timeout bounds waiting for the Bolt file lock. Defaults to 10 seconds.
	Timeout  time.Duration
	ReadOnly bool

	// IsTesting trades durability for speed.
	IsTesting bool

	// Now overrides the clock used for Info.SavedAt.
	Now func() time.Time
}

// Info describes a stored snapshot.
type Info struct {
	Name     string
	Revision uuid.UUID
	SavedAt  time.Time
	Rows     int
	Seqnum   uint64
	Size     int
	Schema   []string
	Columns  []string
}

// Store keeps named model snapshots in a Bolt file or in memory. A Store is
// safe for concurrent use; the models passed to it are not, so callers must
// not mutate a model while saving it.
type Store struct {
	be     backend
	logger *slog.Logger
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	now    func() time.Time
}

// Open opens or creates a Bolt-backed store at path.
func Open(path string, opt Options) (*Store, error) {
	be, err := openBolt(path, opt)
	if err != nil {
		return nil, err
	}
	s, err := newStore(be, opt)
	if err != nil {
		be.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory returns a store that lives in memory only.
func OpenMemory(opt Options) *Store {
	return must(newStore(newMemBackend(), opt))
}

func newStore(be backend, opt Options) (*Store, error) {
	s := &Store{
		be:     be,
		logger: opt.Logger,
		now:    opt.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	var err error
	if !opt.Uncompressed {
		level := opt.CompressionLevel
		if level == 0 {
			level = zstd.SpeedDefault
		}
		s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}
	s.dec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.enc != nil {
		s.enc.Close()
	}
	s.dec.Close()
	return s.be.Close()
}

// Save stores a snapshot of m under name, replacing any previous snapshot
// with that name.
func (s *Store) Save(name string, m *rowstore.Model) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	start := time.Now()
	data := encodeModel(m, s.enc)

	scm := m.Schema()
	info := Info{
		Name:     name,
		Revision: uuid.New(),
		SavedAt:  s.now().UTC(),
		Rows:     m.Len(),
		Seqnum:   m.Seqnum(),
		Size:     len(data),
		Schema:   scm.Signature(),
		Columns:  scm.ColumnNames(),
	}

	err := s.be.Update(func(tx backendTx) error {
		if err := tx.Put(blobs, name, data); err != nil {
			return err
		}
		return tx.Put(infos, name, encodeMsgpack(toInfoRecord(&info)))
	})
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: saving %q: %w", name, err)
	}

	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "snapshot saved",
		slog.String("name", name),
		slog.String("rev", info.Revision.String()),
		slog.Int("rows", info.Rows),
		slog.Int("size", info.Size),
		slog.Duration("elapsed", time.Since(start)))
	return info, nil
}

// Load decodes the named snapshot into a new model. Row values and order, the
// schema and the sequence number are restored; RowIDs are assigned afresh.
func (s *Store) Load(name string, opt rowstore.Options) (*rowstore.Model, error) {
	var data []byte
	err := s.be.View(func(tx backendTx) error {
		v := tx.Get(blobs, name)
		if v == nil {
			return notFound(name)
		}
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opt.Name == "" {
		opt.Name = name
	}
	if opt.Logger == nil {
		opt.Logger = s.logger
	}
	m, err := decodeModel(data, s.dec, opt)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading %q: %w", name, err)
	}

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "snapshot loaded",
		slog.String("name", name),
		slog.Int("rows", m.Len()),
		slog.Uint64("seq", m.Seqnum()))
	return m, nil
}

func (s *Store) Info(name string) (Info, error) {
	var info Info
	err := s.be.View(func(tx backendTx) error {
		v := tx.Get(infos, name)
		if v == nil {
			return notFound(name)
		}
		var err error
		info, err = decodeInfo(name, v)
		return err
	})
	return info, err
}

// List returns all snapshots ordered by name.
func (s *Store) List() ([]Info, error) {
	return s.ListPrefix("")
}

// ListPrefix returns the snapshots whose names start with prefix, ordered by
// name.
func (s *Store) ListPrefix(prefix string) ([]Info, error) {
	var result []Info
	err := s.be.View(func(tx backendTx) error {
		var err error
		tx.Ascend(infos, prefix, func(name string, v []byte) bool {
			if !strings.HasPrefix(name, prefix) {
				return false
			}
			var info Info
			if info, err = decodeInfo(name, v); err != nil {
				return false
			}
			result = append(result, info)
			return true
		})
		return err
	})
	return result, err
}

// Delete removes the named snapshot, returning rowstore.ErrNotFound if there
// is none.
func (s *Store) Delete(name string) error {
	err := s.be.Update(func(tx backendTx) error {
		if tx.Get(blobs, name) == nil {
			return notFound(name)
		}
		if err := tx.Delete(blobs, name); err != nil {
			return err
		}
		return tx.Delete(infos, name)
	})
	if err == nil {
		s.logger.LogAttrs(context.Background(), slog.LevelInfo, "snapshot deleted", slog.String("name", name))
	}
	return err
}

// Count returns the number of stored snapshots.
func (s *Store) Count() (int, error) {
	var n int
	err := s.be.View(func(tx backendTx) error {
		n = tx.Len(blobs)
		return nil
	})
	return n, err
}

// Size returns the storage footprint in bytes: the file size for Bolt, the
// payload size in memory.
func (s *Store) Size() (int64, error) {
	return s.be.Size()
}

func toInfoRecord(info *Info) *infoRecord {
	return &infoRecord{
		Revision: info.Revision.String(),
		SavedAt:  info.SavedAt.UnixNano(),
		Rows:     info.Rows,
		Seqnum:   info.Seqnum,
		Size:     info.Size,
		Schema:   info.Schema,
		Columns:  info.Columns,
	}
}

func decodeInfo(name string, data []byte) (Info, error) {
	var rec infoRecord
	if err := decodeMsgpack(data, &rec); err != nil {
		return Info{}, fmt.Errorf("snapshot: info for %q: %w", name, err)
	}
	rev, err := uuid.Parse(rec.Revision)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: info for %q: %w", name, dataErrf(data, 0, err, "revision"))
	}
	return Info{
		Name:     name,
		Revision: rev,
		SavedAt:  time.Unix(0, rec.SavedAt).UTC(),
		Rows:     rec.Rows,
		Seqnum:   rec.Seqnum,
		Size:     rec.Size,
		Schema:   slices.Clone(rec.Schema),
		Columns:  slices.Clone(rec.Columns),
	}, nil
}

func validateName(name string) error {
	if name == "" {
		return errorf("empty snapshot name")
	}
	return nil
}

func notFound(name string) error {
	return fmt.Errorf("snapshot %q: %w", name, rowstore.ErrNotFound)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
