package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/service"
)

func newExpandCmd(g *globalOptions) *cobra.Command {
	var (
		window int
		format string
	)

	cmd := &cobra.Command{
		Use:   "expand <chunk-id>...",
		Short: "Show retrieved chunks with their neighbours",
		Long: `Return each chunk together with the chunks within --window positions
of it in the same document, ordered by document and position.

Examples:
  recall expand 1842
  recall expand 1842 2210 --window 2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ids, err := parseChunkIDs(args)
			if err != nil {
				return err
			}

			svc, err := g.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			resp, err := svc.Expand(cmd.Context(), service.ExpandRequest{ChunkIDs: ids, Window: window})
			if err != nil {
				return err
			}

			out := g.writer(cmd)
			if format == formatJSON {
				return out.JSON(resp)
			}
			if len(resp.Missing) > 0 {
				missing := make([]string, len(resp.Missing))
				for i, id := range resp.Missing {
					missing[i] = strconv.FormatInt(id, 10)
				}
				out.Warningf("Missing chunk IDs: %s", strings.Join(missing, ", "))
			}
			for i, c := range resp.Chunks {
				printChunk(out, i+1, c, "")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&window, "window", "w", service.DefaultExpandWindow, "Neighbours on each side")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func parseChunkIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, rerrors.InputError(fmt.Sprintf("invalid chunk id %q", a), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
