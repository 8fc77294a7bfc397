// Package uds carries planguard daemon requests over a Unix domain socket as
// length-prefixed JSON frames. Every request names a command and, for the
// session commands, the execution session it operates on.
package uds

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const ProtocolVersion = 2

// DefaultSocketName is the socket filename used when serve is given a directory.
const DefaultSocketName = "planguard.sock"

// maxFrameSize bounds a single frame; plans and outcome sets stay far below it.
const maxFrameSize = 10 * 1024 * 1024

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	Session         string          `json:"session,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// Response codes. CodeOK is only used for metrics and logs; successful
// responses carry no error detail.
const (
	CodeOK               = "OK"
	CodeProtocolMismatch = "PROTOCOL_MISMATCH"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodeInvalid          = "INVALID_REQUEST"
	CodeNotFound         = "SESSION_NOT_FOUND"
	CodeExists           = "SESSION_EXISTS"
	CodeTimeout          = "TIMEOUT"
	CodeUnavailable      = "UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

// Handlers wrap these so the server can pick a response code, and clients get
// them back from errors.Is on a failed Call.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already loaded")
	ErrTimeout         = errors.New("request timed out")
	ErrUnavailable     = errors.New("daemon is shutting down")
)

var sentinels = map[string]error{
	CodeInvalid:     ErrInvalidRequest,
	CodeNotFound:    ErrSessionNotFound,
	CodeExists:      ErrSessionExists,
	CodeTimeout:     ErrTimeout,
	CodeUnavailable: ErrUnavailable,
}

// ErrorDetail is a failed response. It matches the sentinel error of its code.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorDetail) Error() string {
	return e.Code + ": " + e.Message
}

func (e *ErrorDetail) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// Code maps a handler error to its response code.
func Code(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	}
	for code, s := range sentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return CodeInternal
}

func NewRequest(command, session string, params any) (*Request, error) {
	req := &Request{
		ProtocolVersion: ProtocolVersion,
		Command:         command,
		Session:         session,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", command, err)
		}
		req.Params = data
	}
	return req, nil
}

// DecodeParams unmarshals the request parameters into v. A request without
// parameters leaves v untouched. Errors wrap ErrInvalidRequest.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("%w: %s params: %v", ErrInvalidRequest, r.Command, err)
	}
	return nil
}

// RequireSession returns the request's session ID, or an ErrInvalidRequest
// error when it has none.
func (r *Request) RequireSession() (string, error) {
	if r.Session == "" {
		return "", fmt.Errorf("%w: %s needs a session", ErrInvalidRequest, r.Command)
	}
	return r.Session, nil
}

func successResponse(data any) *Response {
	resp := &Response{Success: true}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errorResponse(CodeInternal, fmt.Sprintf("marshal response: %v", err))
	}
	resp.Data = raw
	return resp
}

func errorResponse(code, message string) *Response {
	return &Response{Error: &ErrorDetail{Code: code, Message: message}}
}

// Decode returns the response error for a failed response and otherwise
// unmarshals Data into v (v may be nil).
func (r *Response) Decode(v any) error {
	if !r.Success {
		if r.Error == nil {
			return &ErrorDetail{Code: CodeInternal, Message: "request failed without detail"}
		}
		return r.Error
	}
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}

// WriteFrame writes v as a 4-byte big-endian length followed by its JSON
// encoding, in a single write.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	frame := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
