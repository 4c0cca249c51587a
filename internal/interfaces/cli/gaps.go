package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/athene-kg/athene/pkg/errors"
	"github.com/athene-kg/athene/pkg/types/kg"
)

// gapTable renders detected gaps as a table.
type gapTable struct {
	*kg.AnalysisReport
}

func (t gapTable) TableHeaders() []string {
	return []string{"GAP", "CLUSTER A", "CLUSTER B", "STRENGTH", "STATUS"}
}

func (t gapTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t.Gaps))
	for _, g := range t.Gaps {
		rows = append(rows, []string{
			g.ID,
			fmt.Sprintf("%d", g.ClusterAID),
			fmt.Sprintf("%d", g.ClusterBID),
			fmt.Sprintf("%.3f", g.GapStrength),
			string(g.Status),
		})
	}
	return rows
}

// candidateTable renders under-discussed concepts as a table.
type candidateTable struct {
	*kg.GapCandidatesResult
}

func (t candidateTable) TableHeaders() []string {
	return []string{"ID", "CONCEPT", "PAPERS"}
}

func (t candidateTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t.Concepts))
	for _, c := range t.Concepts {
		rows = append(rows, []string{c.ID, c.Name, fmt.Sprintf("%d", c.PaperCount)})
	}
	return rows
}

// NewGapsCmd creates the gap inspection command group.
func NewGapsCmd() *cobra.Command {
	gapsCmd := &cobra.Command{
		Use:   "gaps",
		Short: "Inspect structural gaps and manage their review lifecycle",
	}

	var maxPapers int
	candidatesCmd := &cobra.Command{
		Use:   "candidates <project-id>",
		Short: "List under-discussed concepts worth investigating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			result, err := cliCtx.Client.Query().GapCandidates(cmd.Context(), args[0], maxPapers)
			if err != nil {
				return err
			}
			return PrintResult(cmd, candidateTable{result})
		},
	}
	candidatesCmd.Flags().IntVar(&maxPapers, "max-papers", 0, "paper-count ceiling (0 uses the server default)")

	latestCmd := &cobra.Command{
		Use:   "latest <project-id>",
		Short: "Show the most recent gap-analysis report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			report, err := cliCtx.Client.Query().LatestAnalysis(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, gapTable{report})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <project-id> <gap-id> <status>",
		Short: "Move a gap through its review lifecycle (detected, explored, bridged, dismissed)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			status := kg.GapStatus(args[2])
			if !status.Valid() {
				return errors.Newf(errors.ErrCodeValidation, "invalid gap status %q", args[2])
			}
			if err := cliCtx.Client.Query().UpdateGapStatus(cmd.Context(), args[0], args[1], status); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("gap %s marked %s", args[1], status))
			return nil
		},
	}

	gapsCmd.AddCommand(candidatesCmd, latestCmd, statusCmd)
	return gapsCmd
}
