package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/clawmail/internal/dispatch"
	"github.com/teemow/clawmail/internal/instrumentation"
	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/registry"
	"github.com/teemow/clawmail/internal/tools/email_tools"
)

func newServeCmd() *cobra.Command {
	var (
		readOnly    bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server on stdio, exposing every ready
account through the email_accounts, email_read, email_search and email_send
tools.

The server never prompts: accounts whose token cannot be refreshed silently
are left out and logged. Run 'clawmail auth' first.

Safety Mode:
  Use --read-only to omit email_send.

Metrics:
  With INSTRUMENTATION_ENABLED=true and the prometheus exporter, --metrics-addr
  serves /metrics and /healthz on a dedicated address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = os.Getenv("METRICS_ADDR")
			}
			return runServe(cmd.Context(), readOnly, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Do not register the email_send tool")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics server address, e.g. :9090 (disabled when empty). Can also use METRICS_ADDR env var.")
	return cmd
}

func runServe(ctx context.Context, readOnly bool, metricsAddr string) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the protocol; logs go to stderr
	a, err := newApp(ctx, appOptions{logOutput: os.Stderr})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if metricsAddr != "" && a.instr.Enabled() {
		metricsServer, err := startMetricsServer(metricsAddr, a)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}

	reg, report := a.registry(ctx)
	for _, o := range report.Failed() {
		a.logger.Warn("account unavailable", logging.Account(o.ID), logging.Err(o.Err), "remedy", string(o.Remedy))
	}
	if report.Ready() == 0 {
		a.logger.Warn("no account is ready; tools will report errors until 'clawmail auth' is run and the server restarted")
	}

	mcpSrv := mcpserver.NewMCPServer("clawmail", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := registerAllTools(mcpSrv, reg, a, readOnly); err != nil {
		return err
	}

	return runStdioServer(ctx, mcpSrv)
}

func startMetricsServer(addr string, a *app) (*instrumentation.MetricsServer, error) {
	srv, err := instrumentation.NewMetricsServer(addr, a.instr, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}
	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			a.logger.Error("metrics server stopped", logging.Err(err))
		}
	}()
	return srv, nil
}

// registerAllTools registers the MCP tools over the ready accounts.
func registerAllTools(mcpSrv *mcpserver.MCPServer, reg *registry.Registry, a *app, readOnly bool) error {
	deps := email_tools.Deps{
		Mailer:    dispatch.New(reg, a.logger),
		Directory: reg,
		Metrics:   a.instr.Metrics(),
	}
	if err := email_tools.RegisterEmailTools(mcpSrv, deps, readOnly); err != nil {
		return fmt.Errorf("failed to register email tools: %w", err)
	}
	return nil
}

func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			serverDone <- err
		}
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
	case <-ctx.Done():
	}
	return nil
}
