package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/andreyvit/rowstore"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot blob layout, little-endian:
//
//	magic    [4]byte "RSNP"
//	version  uint16
//	flags    uint16
//	rawSize  uint32  msgpack payload size before compression
//	size     uint32  stored payload size
//	checksum uint64  xxhash64 of the stored payload
//	payload  [size]byte
const (
	headerSize = 24

	version0 uint16 = 0

	flagZstd uint16 = 1 << 0
)

var magic = [4]byte{'R', 'S', 'N', 'P'}

// ErrCorrupted is wrapped by decoding errors caused by damaged data.
var ErrCorrupted = errors.New("corrupted snapshot")

var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

type header struct {
	Magic    [4]byte
	Version  uint16
	Flags    uint16
	RawSize  uint32
	Size     uint32
	Checksum uint64
}

type modelRecord struct {
	Schema  []string `msgpack:"schema"`
	Columns []string `msgpack:"columns,omitempty"`
	Seqnum  uint64   `msgpack:"seq"`
	Rows    [][]any  `msgpack:"rows"`
}

type infoRecord struct {
	Revision string   `msgpack:"rev"`
	SavedAt  int64    `msgpack:"at"`
	Rows     int      `msgpack:"rows"`
	Seqnum   uint64   `msgpack:"seq"`
	Size     int      `msgpack:"size"`
	Schema   []string `msgpack:"schema"`
	Columns  []string `msgpack:"columns,omitempty"`
}

func encodeMsgpack(v any) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return buf.Bytes()
}

func decodeMsgpack(data []byte, v any) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// encodeModel serializes m. A nil enc stores the payload uncompressed.
func encodeModel(m *rowstore.Model, enc *zstd.Encoder) []byte {
	scm := m.Schema()
	rec := modelRecord{
		Schema:  scm.Signature(),
		Columns: scm.ColumnNames(),
		Seqnum:  m.Seqnum(),
		Rows:    make([][]any, 0, m.Len()),
	}
	for id, row := range m.All() {
		vals, err := row.Values()
		if err != nil {
			panic(fmt.Errorf("row %v: %w", id, err))
		}
		rec.Rows = append(rec.Rows, vals)
	}
	return encodeBlob(encodeMsgpack(&rec), enc)
}

func encodeBlob(raw []byte, enc *zstd.Encoder) []byte {
	h := header{Magic: magic, Version: version0, RawSize: uint32(len(raw))}
	payload := raw
	if enc != nil {
		payload = enc.EncodeAll(raw, nil)
		h.Flags |= flagZstd
	}
	h.Size = uint32(len(payload))
	h.Checksum = xxhash.Sum64(payload)

	buf := make([]byte, headerSize, headerSize+len(payload))
	n, err := binary.Encode(buf, binary.LittleEndian, &h)
	if err != nil {
		panic(err)
	}
	if n != headerSize {
		panic("internal size mismatch")
	}
	return append(buf, payload...)
}

// decodeBlob verifies the header and checksum and returns the msgpack
// payload.
func decodeBlob(data []byte, dec *zstd.Decoder) ([]byte, error) {
	if len(data) < headerSize {
		return nil, dataErrf(data, 0, ErrCorrupted, "truncated header")
	}
	var h header
	if _, err := binary.Decode(data[:headerSize], binary.LittleEndian, &h); err != nil {
		return nil, dataErrf(data, 0, err, "invalid header")
	}
	if h.Magic != magic {
		return nil, dataErrf(data, 0, ErrCorrupted, "bad magic")
	}
	if h.Version > version0 {
		return nil, dataErrf(data, 4, ErrUnsupportedVersion, "version %d", h.Version)
	}
	payload := data[headerSize:]
	if uint32(len(payload)) != h.Size {
		return nil, dataErrf(data, headerSize, ErrCorrupted, "payload is %d bytes, header says %d", len(payload), h.Size)
	}
	if xxhash.Sum64(payload) != h.Checksum {
		return nil, dataErrf(data, headerSize, ErrCorrupted, "checksum mismatch")
	}
	if h.Flags&flagZstd == 0 {
		return payload, nil
	}

	raw, err := dec.DecodeAll(payload, make([]byte, 0, h.RawSize))
	if err != nil {
		return nil, dataErrf(data, headerSize, err, "zstd")
	}
	if uint32(len(raw)) != h.RawSize {
		return nil, dataErrf(data, headerSize, ErrCorrupted, "decompressed to %d bytes, header says %d", len(raw), h.RawSize)
	}
	return raw, nil
}

func decodeModel(data []byte, dec *zstd.Decoder, opt rowstore.Options) (*rowstore.Model, error) {
	raw, err := decodeBlob(data, dec)
	if err != nil {
		return nil, err
	}
	var rec modelRecord
	if err := decodeMsgpack(raw, &rec); err != nil {
		return nil, err
	}

	scm, err := rowstore.ParseSchema(rec.Schema...)
	if err != nil {
		return nil, dataErrf(raw, 0, err, "schema")
	}
	if len(rec.Columns) > 0 {
		if err := validateColumns(rec.Columns, scm.Len()); err != nil {
			return nil, dataErrf(raw, 0, err, "columns")
		}
		scm = scm.WithColumnNames(rec.Columns...)
	}

	m := rowstore.NewModel(scm, opt)
	for i, vals := range rec.Rows {
		if _, err := m.Append(vals...); err != nil {
			return nil, dataErrf(raw, 0, err, "row %d", i)
		}
	}
	m.SetSeqnum(rec.Seqnum)
	return m, nil
}

func validateColumns(names []string, n int) error {
	if len(names) != n {
		return fmt.Errorf("%w: %d column names for %d fields", ErrCorrupted, len(names), n)
	}
	seen := make(map[string]struct{}, n)
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrCorrupted, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func dataErrf(data []byte, off int, err error, format string, args ...any) *rowstore.DataError {
	return &rowstore.DataError{Data: data, Off: off, Err: err, Msg: fmt.Sprintf(format, args...)}
}
