package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/me/batchgate/pkg/model"
	"github.com/spf13/cobra"
)

func newQueuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queues [name]",
		Short: "Show queue status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			type queueView struct {
				Name          string            `json:"name"`
				Error         *model.APIError   `json:"error"`
				SchedulerInfo map[string]string `json:"scheduler_info"`
			}
			var queues []queueView

			if len(args) == 1 {
				resp, err := client.Get(cmd.Context(), "/api/v1/queues/"+url.PathEscape(args[0]))
				if err != nil {
					return fmt.Errorf("get queue: %w", err)
				}
				var q queueView
				if err := json.Unmarshal(resp.Data, &q); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}
				queues = append(queues, q)
			} else {
				resp, err := client.Get(cmd.Context(), "/api/v1/queues/")
				if err != nil {
					return fmt.Errorf("list queues: %w", err)
				}
				if err := json.Unmarshal(resp.Data, &queues); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}
			}

			fmt.Fprintf(out, "%-16s  %s\n", "QUEUE", "INFO")
			for _, q := range queues {
				if q.Error != nil {
					fmt.Fprintf(out, "%-16s  error: %s\n", q.Name, q.Error.Message)
					continue
				}
				var info []string
				for _, k := range slices.Sorted(maps.Keys(q.SchedulerInfo)) {
					info = append(info, k+"="+q.SchedulerInfo[k])
				}
				fmt.Fprintf(out, "%-16s  %s\n", q.Name, strings.Join(info, " "))
			}
			return nil
		},
	}
}
