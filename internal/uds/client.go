package uds

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Client sends one request per connection to a planguard daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client whose calls give up after timeout unless the
// caller's context ends first. Zero means DefaultTimeout.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Call sends command for session (empty for daemon-wide commands) and decodes
// the response data into out, which may be nil. A failed response is returned
// as an *ErrorDetail; errors.Is matches it against ErrSessionNotFound and the
// other sentinels.
func (c *Client) Call(ctx context.Context, command, session string, params, out any) error {
	req, err := NewRequest(command, session, params)
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w\n"+
			"Is the daemon running? Start it with: planguard serve", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock the frame I/O if ctx is canceled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return &resp, nil
}
