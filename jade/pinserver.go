package jade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/djschnei21/btcops/btcerr"
)

// HTTPPinServer tunnels the Jade's auth_user http_request messages to the real
// PIN server over plain net/http, per spec.md §4.9. Grounded on the
// http_request handling shape in
// original_source/jade-bitcoin/src/protocol.rs; there is no HTTP client in the
// teacher's or the pack's dependency set beyond stdlib net/http, which is
// itself the idiomatic choice for a one-shot JSON POST with no retry/circuit
// logic of its own.
type HTTPPinServer struct {
	client *http.Client
}

// NewHTTPPinServer builds a PIN-server bridge using client, or
// http.DefaultClient if nil.
func NewHTTPPinServer(client *http.Client) *HTTPPinServer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPinServer{client: client}
}

// Do tries each URL in spec.URLs in order, returning the first successful
// JSON-decoded response body. The Jade supplies multiple candidate URLs
// (typically an onion address and a clearnet fallback); the first reachable
// one wins.
func (h *HTTPPinServer) Do(ctx context.Context, spec httpRequestSpec) (any, error) {
	if len(spec.URLs) == 0 {
		return nil, btcerr.New(btcerr.KindInvalidResponse, "http_request carried no urls")
	}

	var lastErr error
	for _, url := range spec.URLs {
		result, err := h.doOne(ctx, url, spec)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, btcerr.Wrap(btcerr.KindBackendUnavailable, "all pin server urls failed", lastErr)
}

func (h *HTTPPinServer) doOne(ctx context.Context, url string, spec httpRequestSpec) (any, error) {
	var body io.Reader
	if spec.Data != nil {
		encoded, err := json.Marshal(spec.Data)
		if err != nil {
			return nil, fmt.Errorf("encoding pin server request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building pin server request: %w", err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading pin server response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pin server returned status %d", resp.StatusCode)
	}

	// Parse the body as JSON when possible; a PIN server is free to reply with
	// a bare string or other non-JSON body, in which case it is wrapped so the
	// Jade still receives an object for its on-reply params (spec.md §4.9 step
	// 3, protocol.rs:338-342).
	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return map[string]any{"body": string(respBody)}, nil
	}
	return decoded, nil
}
