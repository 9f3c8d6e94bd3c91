package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ringdht/internal/logs"
	"ringdht/internal/overlay"
)

// Path is where nodes accept calls.
const Path = "/rpc"

// Request is the wire form of a call.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params Args   `json:"params"`
}

// Response is the wire form of an answer. Faults travel with status 200.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Fault  *Fault          `json:"fault,omitempty"`
}

/* ---------------- POST /rpc ---------------- */

// ServeHTTP answers POST /rpc by dispatching the decoded call.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	var outcome Outcome
	select {
	case outcome = <-d.Dispatch(r.Context(), req.Method, req.Params):
	case <-r.Context().Done():
		return
	}

	resp := Response{ID: req.ID, Fault: outcome.Fault}
	if outcome.Fault == nil {
		raw, err := json.Marshal(outcome.Result)
		if err != nil {
			resp.Fault = Faultf(CodeInternal, "encode result: %v", err)
		} else {
			resp.Result = raw
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

/* ---------------- Client ---------------- */

// Client sends calls to peers over HTTP. It implements overlay.Sender.
type Client struct {
	http   *http.Client
	logger *logs.Logger
}

// NewClient creates a client. A zero timeout leaves calls unbounded.
func NewClient(timeout time.Duration, logger *logs.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Invoke posts the call in the background and delivers the decoded answer.
func (c *Client) Invoke(ctx context.Context, to overlay.Peer, method string, args ...any) <-chan overlay.Result {
	out := make(chan overlay.Result, 1)
	go func() {
		value, err := c.call(ctx, to, method, args)
		out <- overlay.Result{Value: value, Err: err}
	}()
	return out
}

func (c *Client) call(ctx context.Context, to overlay.Peer, method string, values []any) (any, error) {
	params, err := NewArgs(values...)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(Request{ID: uuid.New().String(), Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, to.URL(Path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debugf("%s to %s failed: %v", method, to, err)
		return nil, fmt.Errorf("%w: %v", overlay.ErrNoConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s to %s: unexpected status %s: %s",
			method, to, resp.Status, strings.TrimSpace(string(msg)))
	}

	var reply Response
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%s to %s: decode response: %w", method, to, err)
	}
	return decodeOutcome(reply.Result, reply.Fault)
}

func decodeOutcome(result json.RawMessage, fault *Fault) (any, error) {
	if fault != nil {
		return nil, fault
	}
	if len(result) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return value, nil
}
