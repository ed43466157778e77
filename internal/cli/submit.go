package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var file, queue string
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit [-f job.yaml] [-- executable args...]",
		Short: "Submit a job to a batchgate server",
		Long:  "Submit a job description to the server given by --server and print the job id.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			desc, err := jobDescription(file, queue, args)
			if err != nil {
				return err
			}
			logger.Debug("submitting job", "executable", desc.Executable, "queue", desc.QueueName)

			resp, err := client.Post(ctx, "/api/v1/jobs/", desc)
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}
			var job struct {
				ID        string `json:"id"`
				Scheduler string `json:"scheduler"`
			}
			if err := json.Unmarshal(resp.Data, &job); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if job.ID == "" {
				return fmt.Errorf("job response missing 'id' field")
			}
			fmt.Fprintf(out, "Job submitted: %s\n", job.ID)

			if !wait {
				return nil
			}
			return waitAndPrint(cmd, job.ID, "done", timeout)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Job description file (YAML or JSON)")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue to submit to")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait at most this long (0 uses the server maximum)")

	return cmd
}

// waitAndPrint asks the server to wait for job id and prints the status it returns.
func waitAndPrint(cmd *cobra.Command, id, until string, timeout time.Duration) error {
	q := url.Values{}
	q.Set("until", until)
	if timeout > 0 {
		q.Set("timeout", timeout.String())
	}
	resp, err := client.Post(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(id)+"/wait?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}
	var v statusView
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	printStatus(cmd.OutOrStdout(), v)
	return nil
}
