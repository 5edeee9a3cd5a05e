package chunkmanager

import (
	"testing"
	"time"

	"shardindex/internal/chunk"
)

func TestLiveChunkAppendTracksTotals(t *testing.T) {
	c := newLiveChunk("p0", time.Unix(0, 0))

	bytesIndexed, messagesIndexed, err := c.append(chunk.Record{
		Offset:  0,
		WriteTS: time.Unix(1, 0),
		Raw:     []byte("hello"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if messagesIndexed != 1 || bytesIndexed != 5 {
		t.Fatalf("unexpected totals after first append: bytes=%d messages=%d", bytesIndexed, messagesIndexed)
	}

	bytesIndexed, messagesIndexed, err = c.append(chunk.Record{
		Offset:  1,
		WriteTS: time.Unix(2, 0),
		Raw:     []byte("world!"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if messagesIndexed != 2 || bytesIndexed != 11 {
		t.Fatalf("unexpected totals after second append: bytes=%d messages=%d", bytesIndexed, messagesIndexed)
	}
	if c.firstOffset != 0 || c.lastOffset != 1 {
		t.Fatalf("unexpected offset range: first=%d last=%d", c.firstOffset, c.lastOffset)
	}
}

func TestLiveChunkAppendAfterSealFails(t *testing.T) {
	c := newLiveChunk("p0", time.Unix(0, 0))
	if !c.seal() {
		t.Fatal("expected first seal to succeed")
	}
	if c.seal() {
		t.Fatal("expected second seal to report already sealed")
	}
	if _, _, err := c.append(chunk.Record{Raw: []byte("x")}); err != ErrChunkReadOnly {
		t.Fatalf("expected ErrChunkReadOnly, got %v", err)
	}
}

func TestLiveChunkSerializeRoundTripsLength(t *testing.T) {
	c := newLiveChunk("p0", time.Unix(0, 0))
	for i := range 5 {
		if _, _, err := c.append(chunk.Record{
			Offset:  uint64(i),
			WriteTS: time.Unix(int64(i), 0),
			Raw:     []byte("payload"),
			Attrs:   chunk.Attributes{"i": "x"},
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	data, err := c.serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty serialized payload")
	}
}
