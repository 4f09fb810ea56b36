package pgwire

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/tuannm99/novapg/internal/engine"
)

// Server accepts PostgreSQL protocol connections and runs each on its
// own goroutine against an engine session.
type Server struct {
	eng *engine.Engine
	log *slog.Logger
}

func NewServer(eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{eng: eng, log: log}
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. The listener
// is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(c)
	}
}

func (s *Server) serveConn(c net.Conn) {
	defer func() { _ = c.Close() }()
	conn := newConn(c, s.eng, s.log.With("remote", c.RemoteAddr().String()))
	if err := conn.run(); err != nil {
		conn.log.Debug("connection closed", "error", err)
	}
}
