// Package server runs the proxy's accept loop: bind one listener, and
// spawn one goroutine per accepted connection so a single slow or stuck
// peer never blocks the rest, matching the teacher's own goroutine-based
// concurrency idiom (pkg/transport's cleanup goroutine, Serve-style loops
// across the pack) rather than a fixed worker pool.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/tryunoo/mitmproxy/pkg/handler"
)

// Server binds a listener and dispatches every accepted connection to a
// Handler.
type Server struct {
	Addr    string
	Handler *handler.Handler
	Logger  *slog.Logger
}

// ListenAndServe binds Addr and serves until ctx is canceled. Any other
// Accept error is logged and the loop keeps accepting.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.Addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger().Info("proxy listening", "addr", s.Addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.logger().Warn("accept failed", "error", err)
			continue
		}
		go s.Handler.Handle(ctx, conn)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
