// Package session implements the transport carrying requests to a spawned
// instance: newline-delimited JSON-RPC over a net.Conn, one in-flight
// request at a time, the same wire shape a vsock agent client would use,
// without the vsock-specific dialing.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipeops/apppool/pkg/domain"
)

// Request is one JSON-RPC call sent to the instance.
type Request struct {
	ID     uint64                 `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError mirrors a JSON-RPC error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Conn is a single client<->instance conversation. It is opaque to the
// pool: once returned from Pool.Get, nothing but the caller's own request
// traffic touches it until Close.
type Conn struct {
	mu        sync.Mutex
	conn      net.Conn
	encoder   *json.Encoder
	decoder   *json.Decoder
	requestID uint64
}

var _ domain.Session = (*Conn)(nil)

// Dial opens a session over a Unix-domain socket.
func Dial(ctx context.Context, socketPath string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Conn{
		conn:    c,
		encoder: json.NewEncoder(c),
		decoder: json.NewDecoder(c),
	}, nil
}

// Call sends one request and waits for its matching response.
func (s *Conn) Call(ctx context.Context, method string, params map[string]interface{}) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &Request{
		ID:     atomic.AddUint64(&s.requestID, 1),
		Method: method,
		Params: params,
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
		defer func() { _ = s.conn.SetDeadline(time.Time{}) }()
	}

	if err := s.encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := s.decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id mismatch: expected %d, got %d", req.ID, resp.ID)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s", method, resp.Error.Message)
	}
	return &resp, nil
}

// Close tears down the underlying connection.
func (s *Conn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
