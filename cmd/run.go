package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/DieRekT/trove-research/internal/export"
	"github.com/DieRekT/trove-research/internal/model"
)

var (
	runYearsFrom int
	runYearsTo   int
	runRegion    string
	runPages     int
	runPageSize  int
	runFormat    string
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run an immediate research query and print the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orch.RunImmediate(cmd.Context(), jobParams(args[0]))
		if err != nil {
			return err
		}

		out, err := renderReport(report, runFormat)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func jobParams(query string) model.JobParams {
	params := model.JobParams{
		Query:      query,
		RegionHint: runRegion,
		MaxPages:   runPages,
		PageSize:   runPageSize,
	}
	if runYearsFrom > 0 {
		params.YearsFrom = &runYearsFrom
	}
	if runYearsTo > 0 {
		params.YearsTo = &runYearsTo
	}
	return params
}

func renderReport(report *model.Report, format string) (string, error) {
	switch format {
	case "markdown", "":
		return export.Markdown(report), nil
	case "yaml":
		return export.YAML(report)
	case "jsonl":
		return strings.Join(export.EvidenceLines(report), "\n"), nil
	case "json":
		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", eris.Wrap(err, "render report json")
		}
		return string(raw), nil
	default:
		return "", eris.Errorf("unknown format %q (markdown, yaml, jsonl, json)", format)
	}
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&runYearsFrom, "from", 0, "restrict results from this year")
	cmd.Flags().IntVar(&runYearsTo, "to", 0, "restrict results up to this year")
	cmd.Flags().StringVar(&runRegion, "region", "", "region hint (state name or abbreviation)")
	cmd.Flags().IntVar(&runPages, "pages", 0, "pages to fetch (default from config)")
	cmd.Flags().IntVar(&runPageSize, "page-size", 0, "records per page (default from config)")
}

func init() {
	addQueryFlags(runCmd)
	runCmd.Flags().StringVar(&runFormat, "format", "markdown", "output format: markdown, yaml, jsonl, json")
	rootCmd.AddCommand(runCmd)
}
