// Package server implements the line-delimited JSON request loop.
//
// Requests arrive one per line as {"id": ..., "method": ..., "params": ...}
// and produce exactly one response line each, in arrival order:
// {"id": ..., "result": ...} or {"id": ..., "error": {"code", "message"}}.
// Transport-level failures (unparseable JSON, missing fields, unknown
// methods, handler panics) use the error branch; domain failures travel
// inside result as {"success": false, ...} and never reach this layer.
package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cortex-mcp/cortex/internal/tools"
)

// Protocol error codes.
const (
	codeParseError     = "parse_error"
	codeInvalidRequest = "invalid_request"
	codeMethodNotFound = "method_not_found"
	codeInternalError  = "internal_error"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 1 << 20

// Request is one decoded wire request. ID and Method stay raw so absence
// can be told apart from zero values.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

// Server runs the request loop over a handler set.
type Server struct {
	routes map[string]tools.HandlerFunc
	log    *slog.Logger
}

// New builds a Server dispatching to the given handlers.
func New(h *tools.Handlers, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{routes: h.Routes(), log: log}
}

// Run reads requests from r until EOF, writing one response line per
// request to w. Requests are processed strictly one at a time; empty
// lines are skipped. A line over maxLineBytes is discarded and answered
// with a single parse_error; the loop keeps serving.
func (s *Server) Run(r io.Reader, w io.Writer) error {
	in := bufio.NewReaderSize(r, 64*1024)
	out := bufio.NewWriter(w)

	s.log.Info("server started", "methods", len(s.routes))

	for {
		line, tooLong, err := readLine(in)

		if tooLong {
			s.log.Warn("request line exceeds limit", "limit_bytes", maxLineBytes)
			resp := errResponse(zeroID(), codeParseError, "request exceeds maximum line length")
			if werr := writeResponse(out, resp); werr != nil {
				return fmt.Errorf("server: write response: %w", werr)
			}
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if werr := writeResponse(out, s.handleLine(trimmed)); werr != nil {
				return fmt.Errorf("server: write response: %w", werr)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("input closed, shutting down")
				return nil
			}
			return fmt.Errorf("server: read input: %w", err)
		}
	}
}

// readLine reads one newline-terminated line, accumulating continuation
// chunks. A line over maxLineBytes is drained to its end and reported as
// too long instead of returned. A final unterminated line comes back
// together with io.EOF.
func readLine(r *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if len(chunk) > 0 {
			line = append(line, chunk...)
		}
		if err != nil {
			return line, false, err
		}
		if len(line) > maxLineBytes {
			for isPrefix && err == nil {
				_, isPrefix, err = r.ReadLine()
			}
			return nil, true, nil
		}
		if !isPrefix {
			return line, false, nil
		}
	}
}

// handleLine turns one request line into a response.
func (s *Server) handleLine(line []byte) response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn("unparseable request", "error", err)
		return errResponse(zeroID(), codeParseError, "could not parse request JSON")
	}
	return s.dispatch(req)
}

// dispatch validates the envelope and runs the handler. The response id
// echoes the request id, or 0 when it was absent.
func (s *Server) dispatch(req Request) response {
	id := req.ID
	if len(id) == 0 {
		id = zeroID()
	}

	if len(req.ID) == 0 {
		return errResponse(id, codeInvalidRequest, "missing required field 'id'")
	}
	if req.Method == nil {
		return errResponse(id, codeInvalidRequest, "missing required field 'method'")
	}

	handler, ok := s.routes[*req.Method]
	if !ok {
		return errResponse(id, codeMethodNotFound, fmt.Sprintf("method not found: %s", *req.Method))
	}

	s.log.Debug("dispatching request", "method", *req.Method)
	result, err := s.call(handler, req.Params)
	if err != nil {
		s.log.Error("handler failed", "method", *req.Method, "error", err)
		return errResponse(id, codeInternalError, fmt.Sprintf("internal error: %v", err))
	}

	return response{ID: id, Result: result}
}

// call runs a handler, converting a panic into an error so one bad
// request cannot take the loop down.
func (s *Server) call(handler tools.HandlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(params), nil
}

func writeResponse(out *bufio.Writer, resp response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		// Result failed to serialize; degrade to a protocol error so the
		// client still gets its one response line.
		data, _ = json.Marshal(errResponse(resp.ID, codeInternalError, "failed to serialize result"))
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return err
	}
	return out.Flush()
}

func errResponse(id json.RawMessage, code, message string) response {
	return response{ID: id, Error: &wireError{Code: code, Message: message}}
}

func zeroID() json.RawMessage {
	return json.RawMessage("0")
}
