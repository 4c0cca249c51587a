package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/athene-kg/athene/pkg/errors"
	"github.com/athene-kg/athene/pkg/types/kg"
)

// traversalTable renders traversal nodes as a table.
type traversalTable struct {
	*kg.TraversalResult
}

func (t traversalTable) TableHeaders() []string {
	return []string{"ID", "NAME", "TYPE", "HOPS"}
}

func (t traversalTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		rows = append(rows, []string{
			n.ID,
			n.CanonicalName,
			string(n.Type),
			fmt.Sprintf("%d", n.HopDistance),
		})
	}
	return rows
}

// NewTraverseCmd creates the graph traversal command.
func NewTraverseCmd() *cobra.Command {
	var (
		startIDs      []string
		maxHops       int
		relTypes      []string
		limit         int
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "traverse <project-id>",
		Short: "Expand the graph outward from a set of start nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if len(startIDs) == 0 {
				return errors.New(errors.ErrCodeValidation, "at least one --start node id is required")
			}

			req := kg.TraverseRequest{
				StartIDs:      startIDs,
				MaxHops:       maxHops,
				Limit:         limit,
				MinConfidence: minConfidence,
			}
			for _, raw := range relTypes {
				if raw = strings.TrimSpace(raw); raw != "" {
					req.RelationshipTypes = append(req.RelationshipTypes, kg.RelationshipType(strings.ToUpper(raw)))
				}
			}

			result, err := cliCtx.Client.Query().Traverse(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return PrintResult(cmd, traversalTable{result})
		},
	}

	cmd.Flags().StringSliceVar(&startIDs, "start", nil, "start node ids (repeatable or comma-separated)")
	cmd.Flags().IntVar(&maxHops, "hops", 0, "maximum hop distance (0 uses the server default)")
	cmd.Flags().StringSliceVar(&relTypes, "rel-types", nil, "relationship type filter (e.g. RELATED_TO,SUPPORTS)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum visited nodes (0 uses the server default)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "prune nodes below this confidence")

	return cmd
}

// NewSubgraphCmd creates the neighborhood extraction command.
func NewSubgraphCmd() *cobra.Command {
	var (
		depth    int
		maxNodes int
	)

	cmd := &cobra.Command{
		Use:   "subgraph <project-id> <node-id>",
		Short: "Extract the neighborhood around a single node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			result, err := cliCtx.Client.Query().Subgraph(cmd.Context(), args[0], args[1], depth, maxNodes)
			if err != nil {
				return err
			}
			return PrintResult(cmd, traversalTable{result})
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 0, "neighborhood depth (0 uses the server default)")
	cmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "node cap (0 uses the server default)")

	return cmd
}
