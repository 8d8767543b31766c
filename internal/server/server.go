package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/bus"
	"github.com/dreamware/strata/internal/message"
)

// maxFrameBytes bounds a single request line. A frame that exceeds it is
// answered with an error and the connection closed, since the stream cannot
// be resynchronized past an unterminated line.
const maxFrameBytes = 16 * 1024 * 1024

// initialReadBuffer is the scanner's starting buffer size.
const initialReadBuffer = 64 * 1024

// Protocol event names.
const (
	eventSet         = "SET"
	eventGetKey      = "GET KEY"
	eventGetGroup    = "GET GROUP"
	eventDeleteKey   = "DELETE KEY"
	eventDeleteGroup = "DELETE GROUP"
	eventList        = "LIST"
)

// requestEnvelope is the decoded form of one client frame. Body fields not
// belonging to the event are simply ignored.
type requestEnvelope struct {
	ID    string        `json:"id"`
	Event string        `json:"event"`
	Flags *requestFlags `json:"flags"`
	Key   string        `json:"key"`
	Value string        `json:"value"`
	Group string        `json:"group"`
}

// requestFlags carries the SET-only flags.
type requestFlags struct {
	Persistent bool `json:"persistent"`
	TTL        int  `json:"ttl"`
}

// Response frame shapes, one per result kind.
type boolResponse struct {
	ID       string `json:"id"`
	Response bool   `json:"response"`
}

type stringResponse struct {
	ID       string `json:"id"`
	Response string `json:"response"`
}

type intResponse struct {
	ID       string `json:"id"`
	Response int    `json:"response"`
}

type pairsResponse struct {
	ID       string         `json:"id"`
	Response []message.Pair `json:"response"`
}

type entriesResponse struct {
	ID       string          `json:"id"`
	Response []message.Entry `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server accepts client connections on a unix stream socket and bridges
// frames to the coordinator over the bus.
type Server struct {
	path string
	bus  *bus.Bus
	log  *zap.Logger

	ln    net.Listener
	wg    sync.WaitGroup // Tracks the accept loop and per-connection goroutines
	close sync.Once

	connMu sync.Mutex // Protects conns
	conns  map[net.Conn]struct{}
}

// New creates a Server that will listen at socketPath and dispatch to b.
func New(socketPath string, b *bus.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		path:  socketPath,
		bus:   b,
		log:   log.Named("server"),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start unlinks any stale socket file, binds the listener, and launches the
// accept loop. It returns once the listener is bound.
func (s *Server) Start() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unlink stale socket %s: %w", s.path, err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("listening", zap.String("socketPath", s.path))
	return nil
}

// Close stops accepting, closes every live connection, waits for the
// connection goroutines to finish, and unlinks the socket file. Safe to call
// more than once.
func (s *Server) Close() {
	s.close.Do(func() {
		if s.ln != nil {
			s.ln.Close()
		}

		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()

		s.wg.Wait()
		os.Remove(s.path)
		s.log.Info("stopped")
	})
}

// acceptLoop hands each connection to its own goroutine until the listener
// closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn reads frames off one connection until the client closes it, the
// socket errors, or the bus shuts down.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
	}()

	connLog := s.log.With(zap.String("conn", uuid.NewString()))
	connLog.Info("client connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, initialReadBuffer), maxFrameBytes)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := s.process(line)
		if err != nil {
			if errors.Is(err, bus.ErrShuttingDown) {
				connLog.Info("dropping request, bus is shutting down")
				return
			}
			connLog.Warn("request failed", zap.Error(err))
			resp = errorResponse{Error: err.Error()}
		}

		// Encode appends the terminating newline.
		if err := enc.Encode(resp); err != nil {
			connLog.Error("write failed", zap.Error(err))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		connLog.Warn("read failed", zap.Error(err))
		_ = enc.Encode(errorResponse{Error: err.Error()})
		return
	}
	connLog.Info("client disconnected")
}

// process parses one frame, dispatches it to the coordinator, and shapes the
// response frame.
func (s *Server) process(line []byte) (any, error) {
	var env requestEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}

	switch env.Event {
	case eventSet:
		if env.Flags == nil {
			return nil, fmt.Errorf("SET requires flags")
		}
		resp, err := dispatchWait[message.SetResponse](s.bus, message.SetRequest{
			ID:         env.ID,
			Persistent: env.Flags.Persistent,
			TTL:        env.Flags.TTL,
			Key:        env.Key,
			Value:      env.Value,
			Group:      env.Group,
		})
		if err != nil {
			return nil, err
		}
		return boolResponse{ID: resp.ID, Response: resp.OK}, nil

	case eventGetKey:
		resp, err := dispatchWait[message.GetKeyResponse](s.bus, message.GetKeyRequest{ID: env.ID, Key: env.Key})
		if err != nil {
			return nil, err
		}
		return stringResponse{ID: resp.ID, Response: resp.Value}, nil

	case eventGetGroup:
		resp, err := dispatchWait[message.GetGroupResponse](s.bus, message.GetGroupRequest{ID: env.ID, Group: env.Group})
		if err != nil {
			return nil, err
		}
		return pairsResponse{ID: resp.ID, Response: resp.Pairs}, nil

	case eventDeleteKey:
		resp, err := dispatchWait[message.DeleteKeyResponse](s.bus, message.DeleteKeyRequest{ID: env.ID, Key: env.Key})
		if err != nil {
			return nil, err
		}
		return intResponse{ID: resp.ID, Response: resp.Count}, nil

	case eventDeleteGroup:
		resp, err := dispatchWait[message.DeleteGroupResponse](s.bus, message.DeleteGroupRequest{ID: env.ID, Group: env.Group})
		if err != nil {
			return nil, err
		}
		return intResponse{ID: resp.ID, Response: resp.Count}, nil

	case eventList:
		resp, err := dispatchWait[message.ListResponse](s.bus, message.ListRequest{ID: env.ID})
		if err != nil {
			return nil, err
		}
		return entriesResponse{ID: resp.ID, Response: resp.Entries}, nil

	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}

// dispatchWait sends req to the coordinator and blocks for the response.
func dispatchWait[Resp any](b *bus.Bus, req any) (Resp, error) {
	fut, err := bus.Dispatch[Resp](b, bus.Coordinator, req)
	if err != nil {
		var zero Resp
		return zero, err
	}
	return fut.Wait()
}
