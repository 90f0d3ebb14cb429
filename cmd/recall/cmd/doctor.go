package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/preflight"
)

// errDoctorFailed makes a failed required check exit non-zero.
var errDoctorFailed = errors.New("system check failed")

// doctorReport is the JSON shape of doctor.
type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var (
		verbose bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that recall can run in this project",
		Long: `Run checks before ingesting or serving:

  - configuration loads and validates
  - the data directory is writable with 100 MB free
  - SQLite has FTS5
  - the open-file limit (required for the bleve backend)
  - the embedding and LLM providers can be built

Static providers are reported as warnings. Nothing is written to the
datastore.`,
		Example: `  recall doctor
  recall doctor --verbose
  recall doctor --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			configCheck := preflight.CheckResult{Name: "config", Required: true, Status: preflight.StatusPass, Message: "OK"}
			cfg, root, err := g.loadConfig()
			var results []preflight.CheckResult
			if err != nil {
				configCheck.Status = preflight.StatusFail
				configCheck.Message = err.Error()
				results = []preflight.CheckResult{configCheck}
			} else {
				results = append([]preflight.CheckResult{configCheck}, preflight.New(cfg, root).RunAll(cmd.Context())...)
			}

			out := g.writer(cmd)
			if format == formatJSON {
				if err := out.JSON(doctorReport{Status: preflight.Summary(results), Checks: results}); err != nil {
					return err
				}
			} else {
				printDoctor(out, results, verbose)
			}
			if preflight.HasCriticalFailures(results) {
				return errDoctorFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func printDoctor(out *output.Writer, results []preflight.CheckResult, verbose bool) {
	out.Header("recall doctor")
	for _, r := range results {
		switch r.Status {
		case preflight.StatusPass:
			out.Successf("%s: %s", r.Name, r.Message)
		case preflight.StatusWarn:
			out.Warningf("%s: %s", r.Name, r.Message)
		default:
			out.Errorf("%s: %s", r.Name, r.Message)
		}
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			out.Dim("    " + r.Details)
		}
	}
	out.Newline()
	out.KeyValue("status", strings.ToUpper(preflight.Summary(results)))
}
