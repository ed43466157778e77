package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Delete(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(id))
			if err != nil {
				return fmt.Errorf("cancel job: %w", err)
			}

			var v statusView
			if err := json.Unmarshal(resp.Data, &v); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printStatus(cmd.OutOrStdout(), v)
			return nil
		},
	}
}
