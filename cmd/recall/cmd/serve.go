package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/logging"
	"github.com/Aman-CERP/recall/internal/mcp"
	"github.com/Aman-CERP/recall/internal/service"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval tools over MCP",
		Long: `Start the Model Context Protocol server on stdio. It exposes the
retrieve, answer, expand, ingest, benchmark and status tools plus the
recall://status and recall://chunk/{id} resources.

stdout carries JSON-RPC only; logs go to ~/.recall/logs/recall.log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, root, err := g.loadConfig()
			if err != nil {
				return err
			}

			// --debug already installed a logger in the root pre-run
			if !g.debug {
				logger, cleanup, err := logging.Setup(logging.ServeConfig(cfg.Server.LogLevel))
				if err != nil {
					return fmt.Errorf("failed to setup logging: %w", err)
				}
				defer cleanup()
				slog.SetDefault(logger)
			}

			svc, err := service.Open(cmd.Context(), cfg, root)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			srv, err := mcp.NewServer(svc, cfg)
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context(), cfg.Server.Transport)
		},
	}
}
