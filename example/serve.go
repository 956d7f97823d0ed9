package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Zereker/netlib"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a server",
		Long: `Run a server that answers is-alive requests and broadcasts send-data
requests to every connected client until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolveConfig()
			if err != nil {
				return err
			}

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			server := netlib.NewServer(cfg.Addr, cfg.options(logger, reg)...)
			if err := server.Start(); err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				metrics := serveMetrics(cfg.MetricsAddr, reg, logger)
				defer metrics.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, server, logger)
		},
	}
}

// runServer handles server events until ctx is done or the listener fails.
func runServer(ctx context.Context, server *netlib.Server, logger netlib.Logger) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down server")
			return server.Stop()
		case ev := <-server.Events():
			if err := handleServerEvent(server, ev, logger); err != nil {
				return err
			}
		}
	}
}

func handleServerEvent(server *netlib.Server, ev netlib.Event, logger netlib.Logger) error {
	switch ev := ev.(type) {
	case netlib.ClientConnected:
		logger.Info("client connected", "conn_id", ev.Conn.ID(), "host", ev.Conn.RemoteHost(), "port", ev.Conn.RemotePort())
		_ = ev.Conn.SendMessage(netlib.Response{Type: netlib.ResponseConnect})

	case netlib.ClientDisconnected:
		logger.Info("client disconnected", "conn_id", ev.Conn.ID(), "reason", ev.Reason)

	case netlib.ClientRequestReceived:
		var req netlib.Request
		if err := req.UnmarshalBinary(ev.Data); err != nil {
			logger.Warn("dropping malformed request", "conn_id", ev.Conn.ID(), "error", err)
			return nil
		}
		return handleRequest(server, ev.Conn, req, logger)

	case netlib.ConnectionLost:
		logger.Error("server lost its listener", "reason", ev.Reason, "error", ev.Err)
		return errors.New(ev.Reason)
	}
	return nil
}

func handleRequest(server *netlib.Server, conn *netlib.Connection, req netlib.Request, logger netlib.Logger) error {
	logger.Debug("request", "conn_id", conn.ID(), "type", req.Type.String(), "bytes", len(req.Data))

	switch req.Type {
	case netlib.RequestConnect:
		_ = conn.SendMessage(netlib.Response{Type: netlib.ResponseConnect})
	case netlib.RequestIsAlive:
		_ = conn.SendMessage(netlib.Response{Type: netlib.ResponseIsAlive})
	case netlib.RequestSendData:
		n := server.SendMessage(netlib.Response{Type: netlib.ResponseSend, Data: req.Data})
		logger.Info("broadcast", "conn_id", conn.ID(), "bytes", len(req.Data), "recipients", n)
	case netlib.RequestDisconnect:
		_ = conn.SendMessage(netlib.Response{Type: netlib.ResponseDisconnect})
		_ = conn.Close()
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger netlib.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}
