// Package jade implements the Jade hardware wallet's message framing, the
// request/response state machine, and the PIN-server HTTP-tunneling
// sub-protocol (spec.md §4.8, §4.9). Grounded on
// original_source/jade-bitcoin/src/serial.rs (framing/timeouts),
// src/protocol.rs (state machine and auth_user handshake), src/messages.rs
// (wire types and error codes), and src/types.rs (network naming, USB ids,
// timing constants).
package jade

import (
	"errors"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/djschnei21/btcops/btcerr"
)

const (
	// SerialBaudRate is the Jade's fixed serial baud rate (serial.rs).
	SerialBaudRate = 115200

	// readChunkSize is the buffer size for each individual port Read call.
	readChunkSize = 4096

	// maxBufferedBytes is the sanity ceiling on an undecoded buffer; exceeding it
	// without a successful decode surfaces InvalidResponse (spec.md §4.8).
	maxBufferedBytes = 1024

	// emptyReadsBeforeForcedDecode is the number of consecutive empty reads (with
	// a non-empty buffer) after which framing retries a decode attempt anyway,
	// grounded on serial.rs's consecutive_empty_reads handling.
	emptyReadsBeforeForcedDecode = 3

	// emptyReadsBeforeTimeout is the number of consecutive empty reads (with an
	// empty buffer) after which framing surfaces Timeout.
	emptyReadsBeforeTimeout = 10

	// DefaultReadTimeout is the overall read budget, matching serial.rs's
	// SERIAL_TIMEOUT_MS of ~120s to accommodate PIN-server round trips.
	// OpenSerial divides it across emptyReadsBeforeTimeout polls to get the
	// timeout of each individual Read (readPollInterval).
	DefaultReadTimeout = 120 * time.Second
)

// Framing reads and writes length-delimited-by-decoding CBOR messages over a
// serial transport: there is no outer length prefix. Each request/response is a
// single CBOR object written or read in one logical unit.
type Framing struct {
	rw          io.ReadWriter
	buf         []byte
	readTimeout time.Duration
}

// NewFraming wraps rw (typically a serial.Port) with Jade's message framing.
func NewFraming(rw io.ReadWriter) *Framing {
	return &Framing{rw: rw, readTimeout: DefaultReadTimeout}
}

// WriteMessage CBOR-encodes v and writes it to the transport in one flush, per
// spec.md §4.8 ("written in one flush").
func (f *Framing) WriteMessage(v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return btcerr.Wrap(btcerr.KindInvalidResponse, "encoding CBOR message", err)
	}
	if _, err := f.rw.Write(data); err != nil {
		return btcerr.Wrap(btcerr.KindBackendUnavailable, "writing to serial transport", err)
	}
	return nil
}

// ReadMessage reads bytes incrementally, attempting to CBOR-decode the
// accumulated buffer after each read, and declares the message complete on the
// first successful decode into v. Any bytes left over after a successful decode
// (the start of the next back-to-back message) are retained for the following
// call.
func (f *Framing) ReadMessage(v any) error {
	consecutiveEmpty := 0

	for {
		if len(f.buf) > 0 {
			rest, err := cbor.UnmarshalFirst(f.buf, v)
			if err == nil {
				f.buf = rest
				return nil
			}
			if !isIncompleteDataErr(err) {
				return btcerr.Wrap(btcerr.KindInvalidResponse, "decoding CBOR message", err)
			}
			if len(f.buf) > maxBufferedBytes {
				return btcerr.New(btcerr.KindInvalidResponse, "buffer exceeded sanity threshold without a decodable message")
			}
		}

		chunk := make([]byte, readChunkSize)
		n, err := f.rw.Read(chunk)
		if n > 0 {
			f.buf = append(f.buf, chunk[:n]...)
			consecutiveEmpty = 0
			continue
		}

		if err != nil && !errors.Is(err, io.EOF) {
			return btcerr.Wrap(btcerr.KindBackendUnavailable, "reading from serial transport", err)
		}

		consecutiveEmpty++
		if len(f.buf) > 0 && consecutiveEmpty > emptyReadsBeforeForcedDecode {
			continue // loop back and retry the decode with what we have
		}
		if consecutiveEmpty > emptyReadsBeforeTimeout {
			return btcerr.New(btcerr.KindTimeout, "no complete message within timeout")
		}
	}
}

// isIncompleteDataErr reports whether a CBOR decode error indicates the buffer
// does not yet contain a full message (as opposed to a structurally invalid
// one).
func isIncompleteDataErr(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
