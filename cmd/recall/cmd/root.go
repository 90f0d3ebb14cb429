// Package cmd provides the CLI commands for recall.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/config"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/logging"
	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/service"
	"github.com/Aman-CERP/recall/pkg/version"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	dir     string
	debug   bool
	noColor bool

	loggingCleanup func()
}

// NewRootCmd creates the root command for the recall CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Hybrid retrieval over transcript corpora",
		Long: `recall stores transcripts as overlapping token-window chunks and
retrieves them with lexical (BM25) search, vector search or a weighted
fusion of both. Questions can be decomposed into sub-queries whose
results are merged and optionally synthesized into a cited answer.

The same operations are served to AI assistants over MCP with 'recall serve'.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: g.startLogging,
		PersistentPostRun: g.stopLogging,
	}
	cmd.SetVersionTemplate("recall version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory holding .recall.yaml and the datastore")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging (also mirrored to stderr)")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newIngestCmd(g))
	cmd.AddCommand(newEmbedCmd(g))
	cmd.AddCommand(newRetrieveCmd(g))
	cmd.AddCommand(newAnswerCmd(g))
	cmd.AddCommand(newBenchmarkCmd(g))
	cmd.AddCommand(newExpandCmd(g))
	cmd.AddCommand(newDeleteCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

// printError renders recall errors with their code and hint.
func printError(w io.Writer, err error) {
	var re *rerrors.RecallError
	if errors.As(err, &re) {
		_, _ = fmt.Fprint(w, rerrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// startLogging installs the file logger. Log lines reach stderr only
// with --debug so that text and JSON output stay clean.
func (g *globalOptions) startLogging(cmd *cobra.Command, _ []string) error {
	// serve installs its own logger
	if cmd.Name() == "serve" && !g.debug {
		return nil
	}
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if g.debug {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("command_started", slog.String("command", cmd.CommandPath()), slog.String("version", version.Version))
	return nil
}

func (g *globalOptions) stopLogging(_ *cobra.Command, _ []string) {
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// loadConfig resolves the project root from --dir and loads its config.
func (g *globalOptions) loadConfig() (*config.Config, string, error) {
	root, err := config.FindProjectRoot(g.dir)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", err
	}
	return cfg, root, nil
}

// openService opens the datastore for the project. The caller closes it.
func (g *globalOptions) openService(ctx context.Context) (*service.Service, error) {
	cfg, root, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return service.Open(ctx, cfg, root)
}

func (g *globalOptions) writer(cmd *cobra.Command) *output.Writer {
	if g.noColor {
		return output.NewWithColor(cmd.OutOrStdout(), false)
	}
	return output.New(cmd.OutOrStdout())
}

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON:
		return nil
	default:
		return rerrors.InputError(fmt.Sprintf("unknown output format %q", format), nil).
			WithSuggestion("Use --format text or --format json")
	}
}
