package jade

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"

	"github.com/djschnei21/btcops/btcerr"
)

// State is the connection lifecycle, per spec.md §4.9:
// Disconnected -> Connected -> Authenticated(network) -> Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
)

// connectedMethods are legal in both Connected and Authenticated states.
var connectedMethods = map[string]bool{
	"get_version_info": true,
	"auth_user":        true,
	"logout":           true,
}

// authenticatedOnlyMethods are legal only once the session has authenticated,
// per spec.md §4.9's "Authenticated: all above plus ..." method set.
var authenticatedOnlyMethods = map[string]bool{
	"get_xpub":            true,
	"get_receive_address": true,
	"sign_psbt":           true,
	"sign_message":        true,
}

// networkName maps the chain name the caller asked for to the string the Jade
// expects, applying the Jade's naming quirks: the device calls its regtest
// personality "localtest" and uses "testnet" for signet, grounded on
// NETWORK_LOCALTEST handling in original_source/jade-bitcoin/src/protocol.rs.
func networkName(network string) string {
	switch network {
	case "regtest":
		return "localtest"
	case "signet":
		return "testnet"
	}
	return network
}

// Protocol is the Jade RPC state machine: one CBOR request/response exchange
// per call, with a monotonic request id and an explicit auth_user handshake
// that may recurse into HTTP calls against a PIN server.
type Protocol struct {
	framing *Framing
	state   State
	network string
	nextID  int64
	pin     PinServer
}

// PinServer performs the HTTP calls the Jade asks the host to tunnel during
// auth_user (spec.md §4.9). A real implementation posts to the Blockstream PIN
// server; tests substitute a fake.
type PinServer interface {
	Do(ctx context.Context, spec httpRequestSpec) (any, error)
}

// NewProtocol wraps a Framing in the Jade RPC state machine.
func NewProtocol(framing *Framing, pin PinServer) *Protocol {
	return &Protocol{framing: framing, state: StateDisconnected, pin: pin}
}

// State reports the current connection state.
func (p *Protocol) State() State { return p.state }

// Connect marks the protocol connected, without yet authenticating against any
// network. Call Authenticate to run the PIN handshake.
func (p *Protocol) Connect() {
	p.state = StateConnected
}

// Authenticate runs the Jade's auth_user handshake for network, tunneling any
// nested http_request messages through pin. On success the protocol moves to
// StateAuthenticated and network becomes the one returned by subsequent
// Network calls.
func (p *Protocol) Authenticate(ctx context.Context, network string) error {
	if p.state == StateDisconnected {
		return btcerr.New(btcerr.KindBackendError, "authenticate called before connect")
	}

	id := strconv.FormatInt(atomic.AddInt64(&p.nextID, 1), 10)
	resp, err := p.exchange(ctx, id, "auth_user", map[string]any{"network": networkName(network)})
	if err != nil {
		return err
	}

	// auth_user may reply immediately with a boolean (card already unlocked), or
	// it may need one or more http_request round trips to the PIN server before
	// the handshake completes. Each such message arrives as a request-shaped
	// envelope nested where the normal result would be; handleHTTPHandshake loops
	// until a terminal (non-http_request) result is reached. Responses within
	// this window are read via exchange, not call, so their ids are never
	// checked against the request that triggered them (spec.md §4.9's
	// handshake-window exemption).
	final, err := p.handleHTTPHandshake(ctx, resp.Result)
	if err != nil {
		return err
	}

	authenticated, _ := final.(bool)
	if !authenticated {
		return btcerr.New(btcerr.KindBackendError, "auth_user did not report success")
	}

	p.state = StateAuthenticated
	p.network = network
	return nil
}

// handleHTTPHandshake inspects a decoded result for the nested http_request
// shape; if present it tunnels the request through p.pin, sends the reply back
// as the "on-reply" method without waiting for a correlated response (the
// Jade's next message is the handshake's continuation, delivered through the
// normal read loop), and recurses until a terminal result is produced.
func (p *Protocol) handleHTTPHandshake(ctx context.Context, result cbor.RawMessage) (any, error) {
	var probe httpRequestParams
	if err := cbor.Unmarshal(result, &probe); err == nil && probe.HTTPRequest != nil {
		httpResult, err := p.pin.Do(ctx, probe.HTTPRequest.Params)
		if err != nil {
			return nil, btcerr.Wrap(btcerr.KindBackendUnavailable, "tunneling PIN server request", err)
		}

		// The reply is posted as a fire-and-forget notification using the method
		// name the Jade supplied ("on-reply"), with the decoded HTTP-response JSON
		// sent directly as the params (not wrapped); the Jade's continuation
		// arrives as the next ordinary response on the same transport, under a
		// fresh id exempt from the usual id-match check (spec.md §4.9).
		replyID := strconv.FormatInt(atomic.AddInt64(&p.nextID, 1), 10)
		next, err := p.exchange(ctx, replyID, probe.HTTPRequest.OnReply, httpResult)
		if err != nil {
			return nil, err
		}
		return p.handleHTTPHandshake(ctx, next.Result)
	}

	var terminal any
	if err := cbor.Unmarshal(result, &terminal); err != nil {
		return nil, btcerr.Wrap(btcerr.KindInvalidResponse, "decoding auth_user result", err)
	}
	return terminal, nil
}

// Network returns the network name the protocol authenticated against, valid
// only once State() == StateAuthenticated.
func (p *Protocol) Network() string { return p.network }

// Call issues an RPC method, enforcing the per-state legal-method sets of
// spec.md §4.9: methods in authenticatedOnlyMethods require StateAuthenticated
// (else KindDeviceLocked) and, when network is non-empty, require it to match
// the network the session actually authenticated against (else
// KindNetworkMismatch). network may be left empty for methods (like
// get_version_info/logout) that are not network-scoped. The result is decoded
// into out.
func (p *Protocol) Call(ctx context.Context, method string, network string, params any, out any) error {
	if authenticatedOnlyMethods[method] {
		if p.state != StateAuthenticated {
			return btcerr.New(btcerr.KindDeviceLocked, method+" requires an authenticated session")
		}
		if network != "" && network != p.network {
			return btcerr.New(btcerr.KindNetworkMismatch, fmt.Sprintf("session authenticated for %s, requested %s", p.network, network))
		}
	} else if !connectedMethods[method] {
		return btcerr.New(btcerr.KindBackendError, "unknown jade method "+method)
	} else if p.state == StateDisconnected {
		return btcerr.New(btcerr.KindBackendError, "call issued before connect")
	}

	result, err := p.call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := cbor.Unmarshal(result, out); err != nil {
		return btcerr.Wrap(btcerr.KindInvalidResponse, "decoding "+method+" result", err)
	}
	return nil
}

// call performs one id-checked request/response exchange, assigning the next
// monotonic request id. The response id is verified against the request id
// (spec.md §4.9, protocol.rs:42-44) since, outside the auth_user handshake
// window, Jade responses are always correlated 1:1 with their request.
func (p *Protocol) call(ctx context.Context, method string, params any) (cbor.RawMessage, error) {
	id := strconv.FormatInt(atomic.AddInt64(&p.nextID, 1), 10)
	resp, err := p.exchange(ctx, id, method, params)
	if err != nil {
		return nil, err
	}
	if resp.ID != id {
		return nil, btcerr.New(btcerr.KindInvalidResponse, fmt.Sprintf("response id %q does not match request id %q", resp.ID, id))
	}
	return resp.Result, nil
}

// exchange performs one request/response round trip under the given id,
// translating the Jade's structured error codes into btcerr kinds (spec.md
// §7) but without verifying the response id against id. Used directly (not
// through call) by the auth_user handshake, where the PIN-server sub-protocol
// may answer with an id that does not match the request that triggered it
// (spec.md §4.9).
func (p *Protocol) exchange(ctx context.Context, id, method string, params any) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, btcerr.Wrap(btcerr.KindTimeout, "context cancelled before jade call", err)
	}

	if err := p.framing.WriteMessage(request{ID: id, Method: method, Params: params}); err != nil {
		return response{}, fmt.Errorf("writing %s request: %w", method, err)
	}

	var resp response
	if err := p.framing.ReadMessage(&resp); err != nil {
		return response{}, fmt.Errorf("reading %s response: %w", method, err)
	}

	if resp.Error != nil {
		switch resp.Error.Code {
		case errCodeUserCancelled, errCodeUserDeclined:
			return response{}, btcerr.New(btcerr.KindUserCancelled, resp.Error.Message)
		case errCodeHWLocked:
			return response{}, btcerr.New(btcerr.KindDeviceLocked, resp.Error.Message)
		case errCodeNetworkMismatch:
			return response{}, btcerr.New(btcerr.KindNetworkMismatch, resp.Error.Message)
		default:
			return response{}, btcerr.New(btcerr.KindBackendError, fmt.Sprintf("jade error %d: %s", resp.Error.Code, resp.Error.Message))
		}
	}

	return resp, nil
}

// Close resets the protocol to Disconnected. It does not close the underlying
// transport; the caller owns that.
func (p *Protocol) Close() {
	p.state = StateDisconnected
	p.network = ""
}
