package jade

import (
	"io"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

// chunkedReader replays a fixed sequence of read results: each entry is the
// bytes returned (possibly empty) by one Read call, simulating a serial port
// that delivers a CBOR message across several partial reads with empty reads
// in between.
type chunkedReader struct {
	chunks [][]byte
	i      int
	writes int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, nil
	}
	c := r.chunks[r.i]
	r.i++
	n := copy(p, c)
	return n, nil
}

func (r *chunkedReader) Write(p []byte) (int, error) {
	r.writes++
	return len(p), nil
}

type testMsg struct {
	Method string `cbor:"method"`
}

func TestReadMessageAcrossPartialReads(t *testing.T) {
	encoded, err := cbor.Marshal(testMsg{Method: "hello"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(encoded) < 4 {
		t.Fatalf("encoded message too short to split: %d bytes", len(encoded))
	}
	mid := len(encoded) / 2

	rw := &chunkedReader{chunks: [][]byte{
		encoded[:mid],
		{}, // one empty read before the rest arrives
		encoded[mid:],
	}}
	f := NewFraming(rw)

	var got testMsg
	if err := f.ReadMessage(&got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Method != "hello" {
		t.Errorf("Method = %q, want hello", got.Method)
	}
}

func TestReadMessageBackToBack(t *testing.T) {
	first, _ := cbor.Marshal(testMsg{Method: "first"})
	second, _ := cbor.Marshal(testMsg{Method: "second"})

	combined := append(append([]byte{}, first...), second...)
	rw := &chunkedReader{chunks: [][]byte{combined}}
	f := NewFraming(rw)

	var a, b testMsg
	if err := f.ReadMessage(&a); err != nil {
		t.Fatalf("ReadMessage #1: %v", err)
	}
	if err := f.ReadMessage(&b); err != nil {
		t.Fatalf("ReadMessage #2: %v", err)
	}
	if a.Method != "first" || b.Method != "second" {
		t.Errorf("got %q, %q; want first, second", a.Method, b.Method)
	}
}

func TestReadMessageTimeout(t *testing.T) {
	rw := &chunkedReader{chunks: nil} // every Read returns (0, nil): perpetually empty
	f := NewFraming(rw)

	var msg testMsg
	err := f.ReadMessage(&msg)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestWriteMessageFlushesOnce(t *testing.T) {
	rw := &chunkedReader{}
	f := NewFraming(rw)
	if err := f.WriteMessage(testMsg{Method: "ping"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if rw.writes != 1 {
		t.Errorf("WriteMessage issued %d writes, want 1", rw.writes)
	}
}

var _ io.ReadWriter = (*chunkedReader)(nil)
