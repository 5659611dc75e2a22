// file: cmd/framelink/http_server.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/config"
	"github.com/dkoosis/framelink/internal/host"
	"github.com/dkoosis/framelink/internal/host/wshost"
	"github.com/dkoosis/framelink/internal/httputils"
	"github.com/dkoosis/framelink/internal/logging"
	"github.com/dkoosis/framelink/internal/mcp"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/dkoosis/framelink/internal/metrics"
	"github.com/dkoosis/framelink/internal/registry"
	"github.com/dkoosis/framelink/internal/schema"
	"github.com/dkoosis/framelink/internal/transport"
	"github.com/google/uuid"
)

const shutdownTimeout = 5 * time.Second

// newMux wires the websocket endpoint and the status endpoint. Every websocket
// connection gets its own Server answering from the shared registry.
func newMux(cfg *config.Config, reg *registry.Registry, collector *metrics.Collector, serverVersion string) (*http.ServeMux, error) {
	logger := logging.GetLogger("server")

	validation := mcptypes.ValidationOptions{
		Enabled:          cfg.RPC.Validation,
		StrictMode:       cfg.RPC.StrictValidation,
		ValidateOutgoing: cfg.RPC.ValidateOutgoing,
	}
	// One compiled envelope schema serves every connection.
	var validator mcptypes.ValidatorInterface
	if validation.Enabled {
		v, err := schema.NewValidator(logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to compile envelope schema")
		}
		validator = v
	}

	onConnect := func(ctx context.Context, local *host.MemoryWindow, peer *wshost.Peer) error {
		connID := uuid.NewString()
		server, err := mcp.NewServer(reg, mcp.ServerOptions{
			Info:           mcptypes.Implementation{Name: cfg.Server.Name, Version: serverVersion},
			RequestTimeout: cfg.RPC.RequestTimeout.Std(),
			Validation:     validation,
			Validator:      validator,
			Metrics:        collector,
			Logger:         logger.WithField("connection", connID),
		})
		if err != nil {
			collector.RecordConnectionFailure()
			return err
		}
		_, err = server.Start(ctx, transport.AcceptorConfig{
			Local:          local,
			Target:         peer,
			TargetOrigin:   cfg.Channel.TargetOrigin,
			AllowedOrigins: cfg.Channel.AllowedOrigins,
		})
		if err != nil {
			collector.RecordConnectionFailure()
			return err
		}

		collector.RecordConnection(connID, true)
		go func() {
			<-peer.Done()
			_ = server.Close()
			collector.RecordConnection(connID, false)
		}()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wshost.NewHandler(cfg.Server.Origin, onConnect, logger))
	if cfg.Server.StatusPath != "" {
		mux.HandleFunc(cfg.Server.StatusPath, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				httputils.WriteErrorResponse(w, mcperrors.CodeInvalidRequest, "status accepts GET only", logger)
				return
			}
			httputils.WriteJSONResponse(w, collector.Snapshot(), logger)
		})
	}
	return mux, nil
}

// RunServer serves the demo registry until SIGINT or SIGTERM.
func RunServer(cfg *config.Config, serverVersion string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger := logging.GetLogger("server")
	collector := metrics.NewCollector(50)
	reg := demoRegistry(logger)

	mux, err := newMux(cfg, reg, collector, serverVersion)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting framelink server.", "address", cfg.Server.Addr, "origin", cfg.Server.Origin,
			"allowedOrigins", cfg.Channel.AllowedOrigins)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		cancel()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal.", "signal", sig)
	case err := <-errChan:
		return errors.Wrap(err, "server error")
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown error")
	}
	logger.Info("Server shutdown complete.")
	return nil
}
