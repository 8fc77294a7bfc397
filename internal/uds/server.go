package uds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultTimeout bounds a request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// replyGrace keeps the connection writable past the handler deadline so a
// handler that gave up can still answer TIMEOUT.
const replyGrace = time.Second

// Handler serves one command. The returned value becomes the response data;
// an error becomes a failed response whose code is Code(err). ctx is done
// when the request times out or the server stops.
type Handler func(ctx context.Context, req *Request) (any, error)

// Observer is called once per answered request with its response code.
type Observer func(command, code string, elapsed time.Duration)

type ServerOptions struct {
	// Logger receives connection and handler failures. Nil discards them.
	Logger *log.Logger
	// RequestTimeout bounds reading, handling and answering one request.
	// Zero means DefaultTimeout.
	RequestTimeout time.Duration
	Observe        Observer
}

// Server answers one request per connection with the handler registered for
// its command.
type Server struct {
	socketPath string
	opts       ServerOptions

	mu       sync.RWMutex
	handlers map[string]Handler

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewServer(socketPath string, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		opts:       opts,
		handlers:   make(map[string]Handler),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Server) SocketPath() string { return s.socketPath }

func (s *Server) RequestTimeout() time.Duration { return s.opts.RequestTimeout }

func (s *Server) Handle(command string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
}

// Start listens on the socket with owner-only permissions. A socket file left
// by a previous run is removed first; the daemon lock guarantees it is stale.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.serve()
	return nil
}

// Stop cancels in-flight requests, waits for them to be answered and removes
// the socket.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.opts.Logger.Printf("uds: accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.answer(conn)
		}()
	}
}

func (s *Server) answer(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	start := time.Now()
	deadline := start.Add(s.opts.RequestTimeout)
	_ = conn.SetDeadline(deadline)

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.opts.Logger.Printf("uds: read request: %v", err)
		return
	}

	_ = conn.SetDeadline(deadline.Add(replyGrace))
	ctx, cancel := context.WithDeadline(s.ctx, deadline)
	defer cancel()

	resp := s.dispatch(ctx, &req)
	code := CodeOK
	if resp.Error != nil {
		code = resp.Error.Code
		if code == CodeInternal {
			s.opts.Logger.Printf("uds: %s session=%q: %s", req.Command, req.Session, resp.Error.Message)
		}
	}
	if s.opts.Observe != nil {
		s.opts.Observe(req.Command, code, time.Since(start))
	}

	if err := WriteFrame(conn, resp); err != nil {
		s.opts.Logger.Printf("uds: write %s response: %v", req.Command, err)
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.ProtocolVersion != ProtocolVersion {
		return errorResponse(CodeProtocolMismatch,
			fmt.Sprintf("client speaks protocol %d, daemon speaks %d", req.ProtocolVersion, ProtocolVersion))
	}

	s.mu.RLock()
	h, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return errorResponse(CodeUnknownCommand, fmt.Sprintf("unknown command %q", req.Command))
	}

	data, err := s.call(ctx, h, req)
	if err != nil {
		return errorResponse(Code(err), err.Error())
	}
	return successResponse(data)
}

// call runs h and reports a panic as an internal error.
func (s *Server) call(ctx context.Context, h Handler, req *Request) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Printf("uds: panic in %s handler: %v\n%s", req.Command, r, debug.Stack())
			data, err = nil, fmt.Errorf("%s handler panic: %v", req.Command, r)
		}
	}()
	return h(ctx, req)
}
