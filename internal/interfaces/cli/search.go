package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/athene-kg/athene/pkg/types/kg"
)

// searchTable renders search matches as a table.
type searchTable struct {
	*kg.SearchResult
}

func (t searchTable) TableHeaders() []string {
	return []string{"ID", "NAME", "TYPE", "SCORE"}
}

func (t searchTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t.Matches))
	for _, m := range t.Matches {
		if m.Entity == nil {
			continue
		}
		rows = append(rows, []string{
			m.Entity.ID,
			m.Entity.CanonicalName,
			string(m.Entity.Type),
			fmt.Sprintf("%.3f", m.Score),
		})
	}
	return rows
}

// NewSearchCmd creates the entity search command.
func NewSearchCmd() *cobra.Command {
	var (
		typeFilter    string
		limit         int
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "search <project-id> <query>",
		Short: "Search entities by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			var types []kg.EntityType
			for _, raw := range strings.Split(typeFilter, ",") {
				if raw = strings.TrimSpace(raw); raw != "" {
					types = append(types, kg.EntityType(strings.ToUpper(raw)))
				}
			}

			result, err := cliCtx.Client.Query().SearchEntities(cmd.Context(), args[0], args[1], types, limit, minConfidence)
			if err != nil {
				return err
			}
			return PrintResult(cmd, searchTable{result})
		},
	}

	cmd.Flags().StringVar(&typeFilter, "types", "", "entity type filter (e.g. CONCEPT,METHOD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of matches")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "drop matches below this confidence")

	return cmd
}

// NewSimilarCmd creates the embedding-similarity lookup command.
func NewSimilarCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "similar <project-id> <entity-id>",
		Short: "List entities nearest to one entity in embedding space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			result, err := cliCtx.Client.Query().SimilarEntities(cmd.Context(), args[0], args[1], limit)
			if err != nil {
				return err
			}
			return PrintResult(cmd, searchTable{result})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of neighbors")

	return cmd
}
