package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/athene-kg/athene/pkg/errors"
	"github.com/athene-kg/athene/pkg/types/kg"
)

// NewResolveCmd creates the resolve command.  The payload file carries a
// kg.ResolveRequest: extracted entities, optional embeddings and support
// links.
func NewResolveCmd() *cobra.Command {
	var (
		payloadPath string
		async       bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <project-id>",
		Short: "Run entity resolution and relationship building for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			projectID := args[0]

			req, err := readResolvePayload(payloadPath)
			if err != nil {
				return err
			}

			if async {
				job, err := cliCtx.Client.Graph().ResolveAsync(cmd.Context(), projectID, *req)
				if err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("resolve job %s queued for project %s", job.JobID, projectID))
				return PrintResult(cmd, job)
			}

			summary, err := cliCtx.Client.Graph().Resolve(cmd.Context(), projectID, *req)
			if err != nil {
				return err
			}
			return PrintResult(cmd, summary)
		},
	}

	cmd.Flags().StringVarP(&payloadPath, "file", "f", "", "payload JSON file with extracted entities ('-' for stdin)")
	cmd.Flags().BoolVar(&async, "async", false, "queue the job for a worker instead of running inline")

	return cmd
}

func readResolvePayload(path string) (*kg.ResolveRequest, error) {
	if path == "" {
		return &kg.ResolveRequest{}, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "reading payload")
	}

	var req kg.ResolveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decoding payload")
	}
	return &req, nil
}
