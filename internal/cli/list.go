package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var queues []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the jobs a server's scheduler knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			q := url.Values{}
			for _, name := range queues {
				q.Add("queue", name)
			}
			path := "/api/v1/jobs/"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			var data []struct {
				ID          string `json:"id"`
				Scheduler   string `json:"scheduler"`
				Description struct {
					Name       string `json:"name"`
					Executable string `json:"executable"`
					QueueName  string `json:"queue_name"`
				} `json:"description"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			fmt.Fprintf(out, "%-20s  %-12s  %-20s  %s\n", "ID", "QUEUE", "NAME", "EXECUTABLE")
			fmt.Fprintf(out, "%-20s  %-12s  %-20s  %s\n", "--", "-----", "----", "----------")
			for _, job := range data {
				fmt.Fprintf(out, "%-20s  %-12s  %-20s  %s\n", job.ID, job.Description.QueueName, job.Description.Name, job.Description.Executable)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&queues, "queue", "q", nil, "Only list jobs of these queues")
	return cmd
}
