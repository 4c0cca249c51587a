package cli

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/athene-kg/athene/pkg/types/kg"
)

// statsTable renders graph stats as one row per type.
type statsTable struct {
	*kg.GraphStats
}

func (t statsTable) TableHeaders() []string {
	return []string{"KIND", "TYPE", "COUNT"}
}

func (t statsTable) TableRows() [][]string {
	nodeTypes := make([]string, 0, len(t.NodeCounts))
	for et := range t.NodeCounts {
		nodeTypes = append(nodeTypes, string(et))
	}
	sort.Strings(nodeTypes)
	edgeTypes := make([]string, 0, len(t.EdgeCounts))
	for rt := range t.EdgeCounts {
		edgeTypes = append(edgeTypes, string(rt))
	}
	sort.Strings(edgeTypes)

	rows := make([][]string, 0, len(nodeTypes)+len(edgeTypes)+2)
	for _, et := range nodeTypes {
		rows = append(rows, []string{"node", et, strconv.Itoa(t.NodeCounts[kg.EntityType(et)])})
	}
	for _, rt := range edgeTypes {
		rows = append(rows, []string{"edge", rt, strconv.Itoa(t.EdgeCounts[kg.RelationshipType(rt)])})
	}
	rows = append(rows,
		[]string{"node", "(total)", strconv.Itoa(t.TotalNodes)},
		[]string{"edge", "(total)", strconv.Itoa(t.TotalEdges)})
	return rows
}

// NewStatsCmd creates the graph statistics command.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <project-id>",
		Short: "Show node and edge counts by type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			stats, err := cliCtx.Client.Query().Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, statsTable{stats})
		},
	}
}
