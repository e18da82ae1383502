package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown when no timeout is configured.
const DefaultShutdownTimeout = 10 * time.Second

// Run serves on l until ctx is done or serving fails, then drains in-flight
// requests for at most timeout.
func (s *Server) Run(ctx context.Context, l net.Listener, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- s.Serve(l)
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-srvErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
