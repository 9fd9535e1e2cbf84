package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// diagServer wraps the diag.NewRouter handler in a *http.Server with a
// non-blocking Start and a context-bound Stop, matching the graceful-
// shutdown shape the rest of Server uses.
type diagServer struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

func newDiagServer(addr string, handler http.Handler, logger *slog.Logger) *diagServer {
	return &diagServer{httpSrv: &http.Server{Addr: addr, Handler: handler}, logger: logger}
}

func (d *diagServer) Start() {
	go func() {
		if err := d.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("diagnostic server stopped", "err", err)
		}
	}()
}

func (d *diagServer) Stop(ctx context.Context) error {
	return d.httpSrv.Shutdown(ctx)
}
