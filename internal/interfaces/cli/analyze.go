package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	var (
		async    bool
		clusters int
	)

	cmd := &cobra.Command{
		Use:   "analyze <project-id>",
		Short: "Run structural gap analysis over a project's concept graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			projectID := args[0]

			if async {
				job, err := cliCtx.Client.Graph().AnalyzeAsync(cmd.Context(), projectID, clusters)
				if err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("analyze job %s queued for project %s", job.JobID, projectID))
				return PrintResult(cmd, job)
			}

			report, err := cliCtx.Client.Graph().Analyze(cmd.Context(), projectID, clusters)
			if err != nil {
				return err
			}
			return PrintResult(cmd, report)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "queue the job for a worker instead of running inline")
	cmd.Flags().IntVar(&clusters, "clusters", 0, "fixed cluster count (0 picks from graph size)")

	return cmd
}
