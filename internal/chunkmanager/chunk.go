package chunkmanager

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"shardindex/internal/chunk"
)

// State is where a chunk sits in its upload lifecycle.
type State int

const (
	// StateLive accepts new messages.
	StateLive State = iota
	// StateReadOnly has been sealed and is queued for or undergoing upload.
	StateReadOnly
	// StateUploaded has a durable object in storage and a published
	// snapshot record.
	StateUploaded
	// StateEvicted has had its local buffer released after a successful
	// upload; only its metadata remains useful.
	StateEvicted
	// StateClosed failed to upload and will not be retried by this
	// manager instance; reconciliation is responsible for noticing the
	// gap.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateReadOnly:
		return "read_only"
	case StateUploaded:
		return "uploaded"
	case StateEvicted:
		return "evicted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// liveChunk accumulates records for one chunk in memory until it is
// sealed for rollover. The buffering here plays the role the teacher's
// local chunk manager played for on-disk chunks, adapted to hold records
// purely in memory pending an object storage upload.
type liveChunk struct {
	mu sync.Mutex

	id          chunk.ChunkID
	partitionID string

	firstOffset uint64
	lastOffset  uint64
	hasOffset   bool

	startTime time.Time
	endTime   time.Time

	messageCount uint64
	byteCount    uint64

	records []chunk.Record

	state State
}

func newLiveChunk(partitionID string, now time.Time) *liveChunk {
	return &liveChunk{
		id:          chunk.NewChunkID(),
		partitionID: partitionID,
		startTime:   now,
		endTime:     now,
		state:       StateLive,
	}
}

// append adds rec to the buffer and returns the chunk's running totals
// after the append, used to evaluate the rollover strategy. Returns
// ErrChunkReadOnly if the chunk has already been sealed.
func (c *liveChunk) append(rec chunk.Record) (bytesIndexed, messagesIndexed uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLive {
		return 0, 0, ErrChunkReadOnly
	}

	if !c.hasOffset {
		c.firstOffset = rec.Offset
		c.hasOffset = true
	}
	c.lastOffset = rec.Offset
	if rec.WriteTS.After(c.endTime) || c.endTime.IsZero() {
		c.endTime = rec.WriteTS
	}

	c.records = append(c.records, rec.Copy())
	c.messageCount++
	c.byteCount += uint64(rec.Bytes())

	return c.byteCount, c.messageCount, nil
}

// seal transitions the chunk to read-only, freezing it against further
// appends. Returns false if it was already sealed.
func (c *liveChunk) seal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive {
		return false
	}
	c.state = StateReadOnly
	return true
}

func (c *liveChunk) snapshot() (State, uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.byteCount, c.messageCount
}

func (c *liveChunk) markState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// serialize renders the chunk's buffered records as a zstd-compressed
// payload: a record count header followed by each record's attributes
// and raw bytes, length-prefixed. The local chunk manager folded its
// on-disk file format into this in-memory encoding, since what leaves
// this package goes straight to object storage rather than a local
// file.
func (c *liveChunk) serialize() ([]byte, error) {
	c.mu.Lock()
	records := make([]chunk.Record, len(c.records))
	copy(records, c.records)
	c.mu.Unlock()

	var raw bytes.Buffer
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(records)))
	raw.Write(countBuf[:])

	for _, rec := range records {
		attrsEnc, err := rec.Attrs.Encode()
		if err != nil {
			return nil, err
		}
		writeLenPrefixed(&raw, attrsEnc)
		writeLenPrefixed(&raw, rec.Raw)

		var tsBuf [8]byte
		binary.LittleEndian.PutUint64(tsBuf[:], uint64(rec.WriteTS.UnixNano())) //nolint:gosec // G115: unix nanos fits well within int64 range for any real timestamp
		raw.Write(tsBuf[:])
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data))) //nolint:gosec // G115: record fields are bounded well under 4GiB
	buf.Write(lenBuf[:])
	buf.Write(data)
}
