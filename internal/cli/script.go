package cli

import (
	"fmt"
	"os"

	"github.com/me/batchgate/internal/scheduler"
	"github.com/spf13/cobra"
)

func newScriptCmd() *cobra.Command {
	var file, queue, entry string

	cmd := &cobra.Command{
		Use:   "script --flavor <gridengine|torque|slurm> [-f job.yaml] [-- executable args...]",
		Short: "Print the job script a scheduler flavor would submit",
		Long: `Script generates the job script for a description without contacting a
cluster. Relative working directories resolve against --entry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := jobDescription(file, queue, args)
			if err != nil {
				return err
			}
			if entry == "" {
				if entry, err = os.Getwd(); err != nil {
					return fmt.Errorf("working directory: %w", err)
				}
			}

			script, err := scheduler.PreviewScript(cfg.Scheduler.Flavor, desc, entry)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), script)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Job description file (YAML or JSON)")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue to name in the script")
	cmd.Flags().StringVar(&entry, "entry", "", "Entry directory on the cluster (default: current directory)")

	return cmd
}
