package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/me/batchgate/internal/adaptor"
	"github.com/me/batchgate/internal/jobqueue"
	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/internal/scripting/gridengine"
	"github.com/me/batchgate/internal/scripting/slurm"
	"github.com/me/batchgate/internal/scripting/torque"
	"github.com/me/batchgate/pkg/model"
)

// FlavorLocal selects the in-process job queues.
const FlavorLocal = "local"

// Config selects and configures a scheduler.
type Config struct {
	Flavor   string // "local", "gridengine", "torque" or "slurm"
	Location string // where jobs run or where the scheduler commands live

	Local  jobqueue.Config
	Remote scripting.Config

	// ArchiveInterval is how often finished remote jobs are collected
	// for the archive.
	ArchiveInterval time.Duration
}

// DefaultConfig returns a local scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Flavor:          FlavorLocal,
		Local:           jobqueue.DefaultConfig(),
		Remote:          scripting.DefaultConfig(),
		ArchiveInterval: 30 * time.Second,
	}
}

type remoteConstructor func(ctx context.Context, conn *scripting.Connection) (Scheduler, error)

var remoteFlavors = map[string]remoteConstructor{
	gridengine.Name: func(ctx context.Context, conn *scripting.Connection) (Scheduler, error) {
		s, err := gridengine.New(ctx, conn)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	torque.Name: func(ctx context.Context, conn *scripting.Connection) (Scheduler, error) {
		s, err := torque.New(ctx, conn)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	slurm.Name: func(ctx context.Context, conn *scripting.Connection) (Scheduler, error) {
		s, err := slurm.New(ctx, conn)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
}

// Flavors returns the supported scheduler flavors.
func Flavors() []string {
	out := []string{FlavorLocal}
	for name := range remoteFlavors {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Open builds the scheduler cfg describes, resolving cfg.Location through
// registry. Finished jobs are handed to archive if it is not nil.
func Open(ctx context.Context, cfg Config, registry *adaptor.Registry, archive jobqueue.Archive, logger *slog.Logger) (Scheduler, error) {
	if cfg.Flavor == FlavorLocal || cfg.Flavor == "" {
		return openLocal(ctx, cfg, registry, archive, logger)
	}
	if _, ok := remoteFlavors[cfg.Flavor]; !ok {
		return nil, model.NewError(model.CodeBadParameter, "", "unknown scheduler flavor %q (supported: %v)", cfg.Flavor, Flavors())
	}

	remote := cfg.Remote
	remote.Location = cfg.Location
	conn, err := scripting.Open(ctx, registry, cfg.Flavor, remote, logger)
	if err != nil {
		return nil, fmt.Errorf("connect %s scheduler: %w", cfg.Flavor, err)
	}
	s, err := openRemote(ctx, cfg, conn, archive, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func openLocal(ctx context.Context, cfg Config, registry *adaptor.Registry, archive jobqueue.Archive, logger *slog.Logger) (Scheduler, error) {
	backend, err := registry.Resolve(ctx, cfg.Location)
	if err != nil {
		return nil, err
	}
	var opts []jobqueue.Option
	if archive != nil {
		opts = append(opts, jobqueue.WithArchive(archive))
	}
	q, err := jobqueue.New(cfg.Local, backend.Factory, backend.FileSystem, logger, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return q, nil
}

func openRemote(ctx context.Context, cfg Config, conn *scripting.Connection, archive jobqueue.Archive, logger *slog.Logger) (Scheduler, error) {
	s, err := remoteFlavors[cfg.Flavor](ctx, conn)
	if err != nil {
		return nil, err
	}
	if archive == nil {
		return s, nil
	}
	t := NewTracker(s, archive, TrackerConfig{PollInterval: cfg.ArchiveInterval}, logger)
	go t.Start(context.Background())
	return &tracked{Scheduler: s, tracker: t}, nil
}

// PreviewScript returns the job script a remote flavor would submit for
// desc, without contacting a cluster. Cluster-dependent checks such as
// known parallel environments are skipped.
func PreviewScript(flavor string, desc model.JobDescription, entryPath string) (string, error) {
	switch flavor {
	case gridengine.Name:
		return gridengine.Generate(desc, entryPath, gridengine.Setup{})
	case torque.Name:
		return torque.Generate(desc, entryPath)
	case slurm.Name:
		return slurm.Generate(desc, entryPath)
	}
	return "", model.NewError(model.CodeUnsupportedOperation, flavor, "flavor %q does not generate job scripts", flavor)
}

// tracked archives the jobs it submits once the remote scheduler reports
// them done.
type tracked struct {
	Scheduler
	tracker *Tracker
}

func (s *tracked) SubmitJob(ctx context.Context, desc model.JobDescription) (*model.Job, error) {
	job, err := s.Scheduler.SubmitJob(ctx, desc)
	if err != nil {
		return nil, err
	}
	s.tracker.Track(job)
	return job, nil
}

// Script forwards to the wrapped scheduler's generator.
func (s *tracked) Script(desc model.JobDescription) (string, error) {
	g, ok := s.Scheduler.(ScriptGenerator)
	if !ok {
		return "", model.NewError(model.CodeUnsupportedOperation, s.Name(), "scheduler does not generate job scripts")
	}
	return g.Script(desc)
}

// End stops tracking, archives what finished in the meantime and closes
// the scheduler.
func (s *tracked) End() error {
	s.tracker.Stop()
	if err := s.tracker.Tick(context.Background()); err != nil {
		s.tracker.logger.Warn("final archive pass failed", "error", err)
	}
	return s.Scheduler.End()
}
