// Package chunk defines the value types shared by the chunk manager: the
// sortable chunk identifier, record attributes, and the record itself.
// It holds no lifecycle logic — that belongs to internal/chunkmanager.
package chunk

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAttrsTooLarge    = errors.New("attributes too large to encode")
	ErrInvalidAttrsData = errors.New("invalid attributes data")
)

// Attributes carries record metadata as key-value pairs. Chunks embed
// attributes directly alongside the raw payload so a sealed chunk is
// self-contained and needs no side lookup to re-render a record.
type Attributes map[string]string

// Encode serializes attributes to a deterministic binary form:
// [count:u16]([keyLen:u16][key][valLen:u16][val])*, keys sorted
// lexicographically. Returns ErrAttrsTooLarge if the result would not fit
// in a uint16-addressed record.
func (a Attributes) Encode() ([]byte, error) {
	if len(a) == 0 {
		return []byte{0, 0}, nil
	}

	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	size := 2
	for _, k := range keys {
		size += 2 + len(k) + 2 + len(a[k])
	}
	if size > 65535 {
		return nil, ErrAttrsTooLarge
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(a))) //nolint:gosec // G115: bounded by size check above

	offset := 2
	for _, k := range keys {
		v := a[k]
		binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(len(k))) //nolint:gosec // G115: bounded above
		offset += 2
		copy(buf[offset:], k)
		offset += len(k)
		binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(len(v))) //nolint:gosec // G115: bounded above
		offset += 2
		copy(buf[offset:], v)
		offset += len(v)
	}
	return buf, nil
}

// DecodeAttributes is the inverse of Encode.
func DecodeAttributes(data []byte) (Attributes, error) {
	if len(data) < 2 {
		return nil, ErrInvalidAttrsData
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	if count == 0 {
		return Attributes{}, nil
	}

	attrs := make(Attributes, count)
	offset := 2
	for range count {
		if offset+2 > len(data) {
			return nil, ErrInvalidAttrsData
		}
		keyLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+keyLen > len(data) {
			return nil, ErrInvalidAttrsData
		}
		key := string(data[offset : offset+keyLen])
		offset += keyLen

		if offset+2 > len(data) {
			return nil, ErrInvalidAttrsData
		}
		valLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+valLen > len(data) {
			return nil, ErrInvalidAttrsData
		}
		attrs[key] = string(data[offset : offset+valLen])
		offset += valLen
	}
	return attrs, nil
}

// Copy returns a deep copy.
func (a Attributes) Copy() Attributes {
	if a == nil {
		return nil
	}
	cp := make(Attributes, len(a))
	maps.Copy(cp, a)
	return cp
}

// chunkIDEncoding is base32hex without padding: its alphabet (0-9a-v)
// preserves lexicographic sort order, so string-sorted IDs are time-sorted.
var chunkIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ChunkID uniquely identifies a chunk. It is a UUIDv7, so its string form
// sorts lexicographically by creation time — convenient for object storage
// keys, which list lexicographically.
type ChunkID [16]byte

// NewChunkID mints a ChunkID from a fresh UUIDv7.
func NewChunkID() ChunkID {
	return ChunkID(uuid.Must(uuid.NewV7()))
}

// ParseChunkID parses a 26-character base32hex string into a ChunkID.
func ParseChunkID(value string) (ChunkID, error) {
	if len(value) != 26 {
		return ChunkID{}, fmt.Errorf("invalid chunk ID length: %d (want 26)", len(value))
	}
	decoded, err := chunkIDEncoding.DecodeString(strings.ToUpper(value))
	if err != nil {
		return ChunkID{}, fmt.Errorf("invalid chunk ID: %w", err)
	}
	var id ChunkID
	copy(id[:], decoded)
	return id, nil
}

// String returns the 26-character lowercase base32hex representation.
func (id ChunkID) String() string {
	return strings.ToLower(chunkIDEncoding.EncodeToString(id[:]))
}

// IsZero reports whether id is the zero value.
func (id ChunkID) IsZero() bool {
	return id == ChunkID{}
}

// Time returns the creation time encoded in the UUIDv7 ChunkID.
func (id ChunkID) Time() time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms)
}

// Record is a single ingested log entry bound for a chunk.
//
// SourceTS is when the log was generated upstream; IngestTS is when the
// bus delivered it; WriteTS is assigned by the chunk manager and is
// monotonic within a chunk.
type Record struct {
	PartitionID string
	Offset      uint64
	SourceTS    time.Time
	IngestTS    time.Time
	WriteTS     time.Time
	Attrs       Attributes
	Raw         []byte
}

// Bytes approximates the on-disk size of the record: raw payload plus
// attribute key/value content.
func (r Record) Bytes() int64 {
	n := int64(len(r.Raw))
	for k, v := range r.Attrs {
		n += int64(len(k) + len(v))
	}
	return n
}

// Copy returns a deep copy, safe to retain past the lifetime of any
// buffer the original referenced.
func (r Record) Copy() Record {
	raw := make([]byte, len(r.Raw))
	copy(raw, r.Raw)
	return Record{
		PartitionID: r.PartitionID,
		Offset:      r.Offset,
		SourceTS:    r.SourceTS,
		IngestTS:    r.IngestTS,
		WriteTS:     r.WriteTS,
		Attrs:       r.Attrs.Copy(),
		Raw:         raw,
	}
}
