// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// writeTimeoutSlack is added to the completion timeout so a slow reply can
// still be written.
const writeTimeoutSlack = 30 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chat sessions over an HTTP JSON API",
		Example: `  rigrun-chat serve
  rigrun-chat serve --addr 0.0.0.0:8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.runServe(cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	ctrl, err := a.buildController(metrics)
	if err != nil {
		return err
	}

	mgr := session.NewManager(ctrl, session.ManagerConfig{
		IdleTimeout:  a.cfg.Session.IdleTimeout.Duration,
		ReapInterval: a.cfg.Session.ReapInterval.Duration,
		Logger:       a.log,
		Metrics:      metrics,
	})

	sc := a.cfg.Server
	if sc.AuthToken == "" && !isLoopback(sc.Addr) {
		a.log.Warn("serving without auth on a non-loopback address", zap.String("addr", sc.Addr))
	}

	srv := server.New(server.Config{
		Addr:         sc.Addr,
		AuthToken:    sc.AuthToken,
		RateLimit:    sc.RateLimit,
		RateBurst:    sc.RateBurst,
		MaxBodyBytes: sc.MaxBodyBytes,
		WriteTimeout: a.cfg.Cloud.Timeout.Duration + writeTimeoutSlack,
	}, mgr).WithLogger(a.log).WithGatherer(reg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// isLoopback reports whether addr binds only the loopback interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
