// Package cli implements the batchgate command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/me/batchgate/internal/config"
	"github.com/me/batchgate/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking BATCHGATE_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("BATCHGATE_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// viperFlags maps configuration keys to the persistent flags that override them.
var viperFlags = map[string]string{
	"log.level":          "log-level",
	"log.format":         "log-format",
	"scheduler.flavor":   "flavor",
	"scheduler.location": "location",
	"archive.db_path":    "db",
}

// NewRootCmd creates the root cobra command for the batchgate CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "batchgate",
		Short: "batchgate submits and monitors batch jobs",
		Long: `batchgate runs jobs on a local process pool or submits them as job scripts
to Grid Engine, Torque or Slurm, and reports their status through one job model.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(flagConfig)
			if err != nil {
				return err
			}
			for key, name := range viperFlags {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
			if flagDebug {
				v.Set("log.level", "debug")
			}
			cfg, err = config.Load(v)
			if err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Configuration file (YAML)")
	pf.StringVar(&flagServer, "server", defaultServer(), "batchgate server URL (or BATCHGATE_SERVER env)")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	pf.String("flavor", "local", "Scheduler flavor (local, gridengine, torque, slurm)")
	pf.String("location", "", "Scheduler location, e.g. local:///scratch or ssh://user@host/home/user")
	pf.String("db", config.DefaultDBPath(), "Job archive database path (empty disables the archive)")

	root.AddCommand(
		newRunCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newCancelCmd(),
		newQueuesCmd(),
		newScriptCmd(),
		newServeCmd(),
		newHistoryCmd(),
	)

	return root
}
