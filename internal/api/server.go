package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mwantia/lakesync/pkg/log"
)

// Server runs the router until it is shut down.
type Server struct {
	httpServer *http.Server
	logger     log.LoggerService
}

func NewServer(address string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger log.LoggerService) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         address,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. Errors after a
// successful bind are reported on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)

		s.logger.Info("Listening on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
