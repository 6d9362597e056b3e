package cli

import (
	"fmt"
	"strconv"

	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/pipeline"
	"github.com/spf13/cobra"
)

var titlesCmd = &cobra.Command{
	Use:   "titles",
	Short: "Save the title catalog as titles.csv",
	Long: `Titles downloads the list of CFR titles and writes it to
<output>/AllTitles/titles.csv.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, applyOutputFlag)
		if err != nil {
			return err
		}
		stack := pipeline.NewStack(cfg, logger, nil)

		titles, err := stack.Catalog.Titles(cmd.Context())
		if err != nil {
			return fmt.Errorf("load titles: %w", err)
		}
		path, err := stack.Documents.PutTitlesCSV(titles)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %d titles written to %s\n", len(titles), path)
		return nil
	},
}

var partsCmd = &cobra.Command{
	Use:   "parts <title>...",
	Short: "Save the part listing of titles as Parts.csv",
	Long: `Parts downloads the content versions of each title and writes them to
<output>/AllTitles/title-N/Parts.csv.

Example:
  cfrfetch parts 7 9 40`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		numbers, err := parseTitleArgs(args)
		if err != nil {
			return err
		}
		cfg, logger, err := setup(cmd, applyOutputFlag)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		stack := pipeline.NewStack(cfg, logger, nil)

		index, err := stack.Catalog.TitleIndex(ctx)
		if err != nil {
			return fmt.Errorf("load titles: %w", err)
		}
		for _, n := range numbers {
			t, ok := index.Get(n)
			if !ok {
				return fmt.Errorf("unknown title %d", n)
			}
			parts, err := stack.Catalog.Parts(ctx, n)
			if err != nil {
				return fmt.Errorf("title %d parts: %w", n, err)
			}
			path, err := stack.Documents.PutPartsCSV(n, t.Name, parts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d entries written to %s\n", t.Label(), len(parts), path)
		}
		return nil
	},
}

var outputDir string

func init() {
	rootCmd.AddCommand(titlesCmd)
	rootCmd.AddCommand(partsCmd)

	for _, c := range []*cobra.Command{titlesCmd, partsCmd} {
		c.Flags().StringVarP(&outputDir, "output-dir", "o", "", "output directory")
	}
}

func applyOutputFlag(cmd *cobra.Command, cfg *model.Config) {
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir = outputDir
	}
}

func parseTitleArgs(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid title number %q", a)
		}
		out = append(out, n)
	}
	return out, nil
}
