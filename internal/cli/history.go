package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/me/batchgate/pkg/model"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	opts := model.DefaultListOptions()
	var all bool

	cmd := &cobra.Command{
		Use:   "history [job_id]",
		Short: "List finished jobs from the archive",
		Long: `History reads the job archive (--db) directly. Without --all only jobs of
the configured scheduler are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := openArchive(ctx)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("no job archive configured (set --db or archive.db_path)")
			}
			defer st.Close()

			scheduler := cfg.Scheduler.Local.Name
			if cfg.Scheduler.Flavor != "" && cfg.Scheduler.Flavor != "local" {
				scheduler = cfg.Scheduler.Flavor
			}

			if len(args) == 1 {
				job, err := st.GetArchivedJob(ctx, scheduler, args[0])
				if err != nil {
					return fmt.Errorf("get archived job: %w", err)
				}
				if job == nil {
					return model.NewError(model.CodeNoSuchJob, scheduler, "job %s is not archived", args[0])
				}
				printArchived(out, job)
				return nil
			}

			if !all {
				opts.Scheduler = scheduler
			}
			jobs, total, err := st.ListArchivedJobs(ctx, opts)
			if err != nil {
				return fmt.Errorf("list archived jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No archived jobs found.")
				return nil
			}

			fmt.Fprintf(out, "%-12s  %-20s  %-12s  %-6s  %-20s  %s\n", "SCHEDULER", "ID", "QUEUE", "EXIT", "FINISHED", "RESULT")
			for _, j := range jobs {
				fmt.Fprintf(out, "%-12s  %-20s  %-12s  %-6s  %-20s  %s\n",
					j.Scheduler, j.JobID, j.Queue, exitText(j.ExitCode), j.FinishedAt.Local().Format(time.DateTime), result(j))
			}
			if opts.Offset+len(jobs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(jobs), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", opts.Limit, "Maximum number of jobs to list")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Skip this many jobs")
	cmd.Flags().StringVarP(&opts.Queue, "queue", "q", "", "Only list jobs of this queue")
	cmd.Flags().BoolVar(&all, "all", false, "List jobs of every scheduler")

	return cmd
}

func printArchived(w io.Writer, j *model.ArchivedJob) {
	fmt.Fprintf(w, "Job %s/%s\n", j.Scheduler, j.JobID)
	fmt.Fprintf(w, "  Name:       %s\n", j.Name)
	fmt.Fprintf(w, "  Queue:      %s\n", j.Queue)
	fmt.Fprintf(w, "  Executable: %s\n", j.Description.Executable)
	fmt.Fprintf(w, "  State:      %s\n", j.State)
	fmt.Fprintf(w, "  Exit code:  %s\n", exitText(j.ExitCode))
	fmt.Fprintf(w, "  Result:     %s\n", result(j))
	fmt.Fprintf(w, "  Finished:   %s\n", j.FinishedAt.Local().Format(time.DateTime))
}

func exitText(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func result(j *model.ArchivedJob) string {
	switch {
	case j.Error != nil:
		return string(j.Error.Code)
	case j.ExitCode != nil && *j.ExitCode != 0:
		return "FAILED"
	}
	return "OK"
}
