package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/index"
	"github.com/Aman-CERP/recall/internal/service"
	"github.com/Aman-CERP/recall/internal/store"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	id        string
	title     string
	source    string
	category  string
	url       string
	published string
	meta      map[string]string
	noEmbed   bool
	format    string
}

func newIngestCmd(g *globalOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Store a transcript as chunks",
		Long: `Clean, chunk and store one transcript. Chunks are embedded unless
--no-embed is set; run 'recall embed' later to embed them.

Ingesting an existing --id replaces that document's chunks.

Examples:
  recall ingest episode-12.txt --source "Lex Fridman" --published 2024-03-01
  cat transcript.txt | recall ingest - --title "Episode 12" --meta guest=Hinton
  recall ingest ep.txt --id ep-12 --category ai --no-embed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, g, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Document ID (default: generated UUID)")
	cmd.Flags().StringVar(&opts.title, "title", "", "Document title (default: file name)")
	cmd.Flags().StringVar(&opts.source, "source", "", "Source, e.g. the podcast or channel")
	cmd.Flags().StringVar(&opts.category, "category", "", "Category")
	cmd.Flags().StringVar(&opts.url, "url", "", "Canonical URL")
	cmd.Flags().StringVar(&opts.published, "published", "", "Publication date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringToStringVar(&opts.meta, "meta", nil, "Extra metadata as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.noEmbed, "no-embed", false, "Store chunks lexical-only")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func runIngest(cmd *cobra.Command, g *globalOptions, path string, opts ingestOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	req, err := opts.request(path)
	if err != nil {
		return err
	}
	req.Text, err = readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	svc, err := g.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	resp, err := svc.Ingest(cmd.Context(), req)
	if err != nil {
		return err
	}
	slog.Info("ingest_complete", slog.String("document_id", resp.DocumentID), slog.Int("chunks", resp.ChunkCount))

	out := g.writer(cmd)
	if opts.format == formatJSON {
		return out.JSON(resp)
	}
	verb := "Ingested"
	if resp.Replaced {
		verb = "Replaced"
	}
	out.Successf("%s %s: %d chunks, %d tokens (%.1f ms)",
		verb, resp.DocumentID, resp.ChunkCount, resp.TotalTokens, resp.IngestionTimeMS)
	if !opts.noEmbed {
		out.Statusf("", "%d embeddings generated", resp.EmbeddingsGenerated)
	}
	if resp.EmbeddingError != "" {
		out.Warningf("Embedding failed, chunks are lexical-only until 'recall embed': %s", resp.EmbeddingError)
	}
	for _, w := range resp.Warnings {
		out.Warning(w)
	}
	return nil
}

// request builds the ingest request from flags. The title defaults to
// the file name without its extension.
func (o ingestOptions) request(path string) (service.IngestRequest, error) {
	req := service.IngestRequest{
		DocumentInput: index.DocumentInput{
			ID:       o.id,
			Title:    o.title,
			Source:   o.source,
			Category: o.category,
			URL:      o.url,
			Metadata: o.meta,
		},
		NoEmbed: o.noEmbed,
	}
	if req.Title == "" && path != "-" {
		base := filepath.Base(path)
		req.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if o.published != "" {
		t, err := store.ParseDate(o.published)
		if err != nil {
			return req, rerrors.InputError(fmt.Sprintf("invalid --published date %q", o.published), err).
				WithSuggestion("Use YYYY-MM-DD or RFC 3339")
		}
		req.PublishedAt = &t
	}
	return req, nil
}

// readInput reads the transcript from path, or from stdin for "-".
func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", rerrors.InputError(fmt.Sprintf("failed to read %s", path), err)
	}
	return string(data), nil
}

func newEmbedCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Embed chunks stored without embeddings",
		Long: `Embed every chunk that has no stored embedding, for example after
'recall ingest --no-embed' or an embedding outage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := g.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			n, err := svc.EmbedPending(cmd.Context())
			if err != nil {
				return err
			}
			g.writer(cmd).Successf("Embedded %d chunks", n)
			return nil
		},
	}
}

func newDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := g.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			resp, err := svc.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			g.writer(cmd).Successf("Deleted %s (%d chunks)", resp.DocumentID, resp.ChunksRemoved)
			return nil
		},
	}
}
