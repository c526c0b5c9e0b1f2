// Package server exposes the filter on its own agent socket.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// Handler answers one request body with one response body.
type Handler interface {
	Handle(ctx context.Context, connID string, body []byte) ([]byte, error)
}

// Server accepts agent clients on a UNIX socket. Each connection is served
// by its own goroutine, one request at a time.
type Server struct {
	handler        Handler
	logger         *slog.Logger
	maxMessageSize uint32

	path    string
	tempDir string

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxMessageSize caps the frame size accepted from clients.
func WithMaxMessageSize(n uint32) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxMessageSize = n
		}
	}
}

// New creates a server. It does not listen until Listen is called.
func New(h Handler, opts ...Option) *Server {
	s := &Server{
		handler:        h,
		logger:         slog.New(slog.DiscardHandler),
		maxMessageSize: agentproto.DefaultMaxMessageSize,
		conns:          make(map[string]net.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the socket. An empty path creates a private directory and
// binds agent.<pid> inside it. An existing path is an error.
func (s *Server) Listen(path string) error {
	if path == "" {
		dir, err := os.MkdirTemp("", "ssh-agent-guard-")
		if err != nil {
			return fmt.Errorf("creating socket directory: %w", err)
		}
		if err := os.Chmod(dir, 0o700); err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("securing socket directory: %w", err)
		}
		s.tempDir = dir
		path = filepath.Join(dir, fmt.Sprintf("agent.%d", os.Getpid()))
	} else if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("socket path %s already exists", path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		s.removeTempDir()
		return fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		os.Remove(path)
		s.removeTempDir()
		return fmt.Errorf("securing socket: %w", err)
	}

	s.mu.Lock()
	s.path = path
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Path returns the bound socket path.
func (s *Server) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Serve accepts connections until ctx is done or Close is called, then
// tears everything down. It returns nil on a requested shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("serving agent socket", "socket", s.Path())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			s.Close()
			s.wg.Wait()
			return fmt.Errorf("accepting connection: %w", err)
		}

		id := uuid.NewString()
		if !s.track(id, conn) {
			conn.Close()
			continue
		}
		go s.serveConn(ctx, id, conn)
	}
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serveConn(ctx context.Context, id string, conn net.Conn) {
	defer s.untrack(id)
	defer conn.Close()

	logger := s.logger.With("conn_id", id)
	logger.Debug("client connected")

	framer := agentproto.NewFramerWithMaxSize(conn, s.maxMessageSize)
	for {
		body, err := framer.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("client disconnected")
			} else if !errors.Is(err, net.ErrClosed) {
				logger.Warn("closing connection", "error", err)
			}
			return
		}

		resp, err := s.handler.Handle(ctx, id, body)
		if err != nil {
			logger.Error("dispatch failed", "error", err)
			return
		}
		if err := framer.WriteFrame(resp); err != nil {
			logger.Warn("writing response", "error", err)
			return
		}
	}
}

// Close stops accepting, closes every client connection and removes the
// socket. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for _, c := range s.conns {
		c.Close()
	}
	path := s.path
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if path != "" {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	s.removeTempDir()
	return err
}

func (s *Server) removeTempDir() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}
