package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DieRekT/trove-research/internal/model"
)

var submitCmd = &cobra.Command{
	Use:   "submit <query>",
	Short: "Submit a batch research job and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		jobID, err := env.Orch.Submit(cmd.Context(), jobParams(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(jobID)

		// The process hosts the background task; block until it completes so
		// the one-shot CLI invocation does not abandon the job.
		env.Orch.Wait()

		job, err := env.Orch.Status(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		if job.Status == model.JobStatusError {
			fmt.Printf("job %s failed: %s\n", jobID, job.ErrorMessage)
			return nil
		}
		fmt.Printf("job %s %s\n", jobID, job.Status)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orch.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%.0f%%", job.ID, job.Status, job.Progress*100)
		if job.ErrorMessage != "" {
			fmt.Printf("\t%s", job.ErrorMessage)
		}
		fmt.Println()
		return nil
	},
}

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report <job-id>",
	Short: "Print the report of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orch.Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := renderReport(report, reportFormat)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	addQueryFlags(submitCmd)
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "output format: markdown, yaml, jsonl, json")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
}
