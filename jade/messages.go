package jade

import "github.com/fxamacker/cbor/v2"

// request is the envelope for every call into the Jade: a monotonically
// increasing id the response echoes back, the RPC method name, and its
// parameters. Grounded on the Request struct in
// original_source/jade-bitcoin/src/messages.rs.
type request struct {
	ID     string `cbor:"id"`
	Method string `cbor:"method"`
	Params any    `cbor:"params,omitempty"`
}

// response is the envelope for every reply: either a result or an error, never
// both, matching the same id as the request it answers.
type response struct {
	ID     string         `cbor:"id"`
	Result cbor.RawMessage `cbor:"result,omitempty"`
	Error  *jadeError     `cbor:"error,omitempty"`
}

// jadeError is the Jade's structured error payload.
type jadeError struct {
	Code    int64  `cbor:"code"`
	Message string `cbor:"message"`
}

// httpRequestParams recognizes the nested "http_request" shape the Jade sends
// mid-handshake during auth_user when it needs the host to tunnel a request to
// the PIN server (spec.md §4.9). It is distinguished from a terminal result
// purely by carrying an "http_request" key, so the raw result is decoded
// permissively into this shape and HTTPRequest checked for nil.
type httpRequestParams struct {
	HTTPRequest *httpRequestBody `cbor:"http_request"`
}

type httpRequestBody struct {
	Params httpRequestSpec `cbor:"params"`
	OnReply string         `cbor:"on-reply"`
}

// httpRequestSpec is the Jade's description of the HTTP call it wants
// performed against the PIN server: one or more candidate URLs to try in
// order, and the request body/headers to send.
type httpRequestSpec struct {
	URLs    []string          `cbor:"urls"`
	Method  string            `cbor:"method"`
	Data    any               `cbor:"data,omitempty"`
	Headers map[string]string `cbor:"headers,omitempty"`
	Accept  string            `cbor:"accept,omitempty"`
}

// errorCode maps the Jade's numeric error codes to error kinds, grounded on
// the code constants in messages.rs (USER_CANCELLED = -32000,
// HW_LOCKED = -32001, NETWORK_MISMATCH = -32002, USER_DECLINED = -32003; all
// others surface as btcerr.KindBackendError carrying the code and message).
const (
	errCodeUserCancelled   = -32000
	errCodeHWLocked        = -32001
	errCodeNetworkMismatch = -32002
	errCodeUserDeclined    = -32003
)
