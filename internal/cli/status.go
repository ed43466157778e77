package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var wait, running bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status <job_id>",
		Short: "Check the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if wait || running {
				until := "done"
				if running {
					until = "running"
				}
				return waitAndPrint(cmd, id, until, timeout)
			}

			resp, err := client.Get(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(id))
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			var v statusView
			if err := json.Unmarshal(resp.Data, &v); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printStatus(cmd.OutOrStdout(), v)
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the job is done")
	cmd.Flags().BoolVar(&running, "running", false, "Wait until the job is running")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait at most this long (0 uses the server maximum)")

	return cmd
}
