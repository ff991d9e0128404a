package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"debugbridge/internal/logging"
)

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
// Request contexts derive from ctx so open event streams end with it.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	logger := logging.FromContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("admin server listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
