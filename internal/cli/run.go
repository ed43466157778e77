package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var file, queue string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run [-f job.yaml] [-- executable args...]",
		Short: "Run a job on the configured scheduler and wait for it",
		Long: `Run submits one job directly to the scheduler selected by --flavor and
--location, waits until it finishes and prints its final status. The command
fails if the job fails, is cancelled, or exits with a non-zero code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			desc, err := jobDescription(file, queue, args)
			if err != nil {
				return err
			}

			st, err := openArchive(ctx)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			sched, err := openScheduler(ctx, st)
			if err != nil {
				return err
			}
			defer func() {
				if err := sched.End(); err != nil {
					logger.Warn("scheduler shutdown failed", "error", err)
				}
			}()

			job, err := sched.SubmitJob(ctx, desc)
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}
			fmt.Fprintf(out, "Job submitted: %s\n", job.Identifier())

			status, err := sched.WaitUntilDone(ctx, job, timeout)
			if err != nil {
				return fmt.Errorf("wait for job %s: %w", job.Identifier(), err)
			}
			if status == nil {
				return fmt.Errorf("job %s is no longer reported by %s", job.Identifier(), sched.Name())
			}
			v, err := viewOf(status)
			if err != nil {
				return err
			}
			printStatus(out, v)

			switch {
			case !status.IsDone():
				return fmt.Errorf("job %s not done after %s", job.Identifier(), timeout)
			case status.Err != nil:
				return status.Err
			case status.ExitCode != nil && *status.ExitCode != 0:
				return fmt.Errorf("job %s exited with code %d", job.Identifier(), *status.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Job description file (YAML or JSON)")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue to submit to (default: the scheduler's default queue)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")

	return cmd
}
