package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/pipeline"
	"github.com/ppiankov/cfrfetch/internal/store"
	"github.com/ppiankov/cfrfetch/internal/validate"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	reportFile    = "report.json"
	crosswalkFile = "crosswalk.db"
)

var (
	fetchAgencies      []string
	fetchTitles        []int
	fetchPolicy        string
	fetchResolveOnly   bool
	fetchFullTitles    bool
	fetchDate          string
	fetchOutputDir     string
	fetchChildren      bool
	fetchNoValidateXML bool
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download regulation chapters for every agency",
	Long: `Fetch loads the title and agency catalogs, confirms each agency's
chapter references against the title hierarchy and saves every confirmed
chapter as XML.

Example:
  cfrfetch fetch
  cfrfetch fetch --agency agricultural-marketing-service --title 7
  cfrfetch fetch --resolve-only --failure-policy isolate
  cfrfetch fetch --full-titles --date 2024-01-01 -o corpus`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringSliceVar(&fetchAgencies, "agency", nil, "only these agency slugs (repeatable)")
	fetchCmd.Flags().IntSliceVar(&fetchTitles, "title", nil, "only references to these titles (repeatable)")
	fetchCmd.Flags().StringVar(&fetchPolicy, "failure-policy", "", "abort or isolate")
	fetchCmd.Flags().BoolVar(&fetchResolveOnly, "resolve-only", false, "confirm chapters without downloading documents")
	fetchCmd.Flags().BoolVar(&fetchFullTitles, "full-titles", false, "also save each referenced title as a whole")
	fetchCmd.Flags().StringVar(&fetchDate, "date", "", "fetch as of this date (YYYY-MM-DD) instead of each title's latest issue")
	fetchCmd.Flags().StringVarP(&fetchOutputDir, "output-dir", "o", "", "output directory")
	fetchCmd.Flags().BoolVar(&fetchChildren, "include-children", false, "also process sub-agencies")
	fetchCmd.Flags().BoolVar(&fetchNoValidateXML, "no-validate-xml", false, "save documents without checking they parse")
}

// applyFetchFlags overrides config with the flags the user actually set
func applyFetchFlags(cmd *cobra.Command, cfg *model.Config) {
	flags := cmd.Flags()
	if flags.Changed("agency") {
		cfg.Run.Agencies = fetchAgencies
	}
	if flags.Changed("title") {
		cfg.Run.Titles = fetchTitles
	}
	if flags.Changed("failure-policy") {
		cfg.Run.FailurePolicy = model.FailurePolicy(fetchPolicy)
	}
	if flags.Changed("resolve-only") {
		cfg.Run.ResolveOnly = fetchResolveOnly
	}
	if flags.Changed("full-titles") {
		cfg.Run.FullTitles = fetchFullTitles
	}
	if flags.Changed("date") {
		cfg.Run.Date = fetchDate
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = fetchOutputDir
	}
	if flags.Changed("include-children") {
		cfg.Run.IncludeChildren = fetchChildren
	}
	if flags.Changed("no-validate-xml") {
		cfg.Run.ValidateXML = !fetchNoValidateXML
	}
}

// setup loads and validates config and builds the logger
func setup(cmd *cobra.Command, apply func(*cobra.Command, *model.Config)) (*model.Config, *slog.Logger, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	if apply != nil {
		apply(cmd, cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd, applyFetchFlags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack := pipeline.NewStack(cfg, logger, pipeline.NewLogObserver(logger))

	titles, err := stack.Catalog.Titles(ctx)
	if err != nil {
		return fmt.Errorf("load titles: %w", err)
	}
	index, err := model.NewTitleIndex(titles)
	if err != nil {
		return fmt.Errorf("load titles: %w", err)
	}
	agencies, err := stack.Catalog.Agencies(ctx)
	if err != nil {
		return fmt.Errorf("load agencies: %w", err)
	}
	if cfg.Run.IncludeChildren {
		agencies = model.Flatten(agencies)
	}
	agencies, err = selectAgencies(agencies, cfg.Run.Agencies)
	if err != nil {
		return err
	}
	agencies = restrictTitles(agencies, cfg.Run.Titles)
	logger.Info("catalog loaded", "titles", index.Len(), "agencies", len(agencies))

	if cfg.Output.CSV {
		if _, err := stack.Documents.PutTitlesCSV(titles); err != nil {
			return err
		}
	}

	report, runErr := stack.Pipeline.Run(ctx, agencies, index)

	// outputs are written even when the run was interrupted
	writeCtx := context.WithoutCancel(ctx)
	if err := writeOutputs(writeCtx, cfg, titles, agencies, report); err != nil {
		logger.Error("write outputs", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	fs, rs := stack.Fetcher.Stats(), stack.Resolver.Stats()
	logger.Debug("transport stats",
		"requests", fs.Requests, "rate_limited", fs.RateLimited, "quota_pauses", fs.QuotaPauses,
		"ancestry_lookups", rs.Lookups, "ancestry_cache_hits", rs.CacheHits)

	pipeline.NewRenderer().RenderSummary(cmd.ErrOrStderr(), report, cfg.Output.Dir)

	var me *validate.MalformedError
	if errors.As(runErr, &me) {
		logger.Error("malformed response", "url", me.URL, "kind", me.Kind, "body", me.Snippet(200))
	}
	return runErr
}

// writeOutputs saves the run report and the agency/chapter crosswalk
func writeOutputs(ctx context.Context, cfg *model.Config, titles []model.Title, agencies []model.Agency, report *model.Report) error {
	if cfg.Output.Report {
		path := filepath.Join(cfg.Output.Dir, reportFile)
		if err := pipeline.NewRenderer().RenderJSON(report, path); err != nil {
			return err
		}
	}
	if !cfg.Output.Crosswalk {
		return nil
	}

	xw, err := store.OpenCrosswalk(filepath.Join(cfg.Output.Dir, crosswalkFile))
	if err != nil {
		return err
	}
	defer func() { _ = xw.Close() }()
	return xw.Save(ctx, titles, processed(agencies, report), report.Units)
}

// processed returns the agencies the run reached
func processed(agencies []model.Agency, report *model.Report) []model.Agency {
	seen := make(map[string]bool, len(report.Agencies))
	for _, s := range report.Agencies {
		seen[s.Slug] = true
	}
	var out []model.Agency
	for _, a := range agencies {
		if seen[a.Key()] {
			out = append(out, a)
		}
	}
	return out
}

// selectAgencies keeps the agencies named by slug, in catalog order. An
// empty selection keeps all of them.
func selectAgencies(agencies []model.Agency, slugs []string) ([]model.Agency, error) {
	if len(slugs) == 0 {
		return agencies, nil
	}
	want := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		want[model.Slugify(s)] = true
	}
	var out []model.Agency
	for _, a := range agencies {
		if want[a.Key()] {
			out = append(out, a)
			delete(want, a.Key())
		}
	}
	for s := range want {
		return nil, fmt.Errorf("unknown agency %q", s)
	}
	return out, nil
}

// restrictTitles drops references outside titles. An empty list keeps all.
func restrictTitles(agencies []model.Agency, titles []int) []model.Agency {
	if len(titles) == 0 {
		return agencies
	}
	keep := make(map[int]bool, len(titles))
	for _, t := range titles {
		keep[t] = true
	}
	out := make([]model.Agency, len(agencies))
	for i, a := range agencies {
		var refs []model.Reference
		for _, r := range a.References {
			if keep[r.Title] {
				refs = append(refs, r)
			}
		}
		a.References = refs
		out[i] = a
	}
	return out
}
