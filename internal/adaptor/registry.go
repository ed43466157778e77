// Package adaptor resolves a location string such as "local://" or
// "ssh://user@host:22/scratch" to the backend (process factory, command
// runner and filesystem) that serves it.
package adaptor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/me/batchgate/internal/filesystem"
	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
)

// Backend bundles the collaborators of one execution location.
type Backend struct {
	Scheme     string
	Factory    process.Factory
	Runner     *process.CommandRunner
	FileSystem filesystem.FileSystem
}

// Close releases the backend's process factory.
func (b *Backend) Close() error {
	return b.Factory.Close()
}

// Target is a parsed location.
type Target struct {
	Scheme string
	Host   string // "[user@]host[:port]", empty for local
	Path   string // entry path, empty for the default
}

// ParseTarget parses "scheme://[user@]host[:port][/path]". A bare string
// without "://" is taken as a host for ssh, and the empty string means local.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{Scheme: "local"}, nil
	}
	if !strings.Contains(s, "://") {
		return Target{Scheme: "ssh", Host: s}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return Target{}, model.WrapError(model.CodeBadParameter, "", err, "invalid location %q", s)
	}
	t := Target{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	if u.User != nil {
		t.Host = u.User.Username() + "@" + u.Host
	}
	return t, nil
}

// Constructor builds a Backend for a parsed target.
type Constructor func(ctx context.Context, t Target, logger *slog.Logger) (*Backend, error)

// Registry maps location schemes to backend constructors.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	constructors map[string]Constructor
	logger       *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		logger:       logger.With("component", "adaptor-registry"),
	}
}

// NewDefaultRegistry creates a Registry with the local and ssh adaptors.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register("local", NewLocalBackend)
	r.Register("ssh", NewSSHBackend)
	return r
}

// Register adds a constructor for scheme, replacing any previous one.
func (r *Registry) Register(scheme string, c Constructor) {
	r.constructors[scheme] = c
	r.logger.Debug("adaptor registered", "scheme", scheme)
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.constructors))
	for s := range r.constructors {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Resolve parses location and builds its backend.
func (r *Registry) Resolve(ctx context.Context, location string) (*Backend, error) {
	t, err := ParseTarget(location)
	if err != nil {
		return nil, err
	}
	c, ok := r.constructors[t.Scheme]
	if !ok {
		return nil, model.NewError(model.CodeBadParameter, "", "no adaptor registered for scheme %q", t.Scheme)
	}
	b, err := c(ctx, t, r.logger)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", location, err)
	}
	r.logger.Info("backend resolved", "scheme", t.Scheme, "host", t.Host, "entry", b.FileSystem.EntryPath())
	return b, nil
}

// NewLocalBackend runs commands on this machine.
func NewLocalBackend(_ context.Context, t Target, logger *slog.Logger) (*Backend, error) {
	factory := process.NewLocalFactory(logger)
	fsys, err := filesystem.NewLocal(t.Path)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Scheme:     "local",
		Factory:    factory,
		Runner:     process.NewCommandRunner(factory, logger),
		FileSystem: fsys,
	}, nil
}

// NewSSHBackend runs commands on t.Host through the OpenSSH client. The
// filesystem is command-backed over the same channel.
func NewSSHBackend(ctx context.Context, t Target, logger *slog.Logger) (*Backend, error) {
	loc, err := process.ParseLocation(t.Host)
	if err != nil {
		return nil, err
	}
	factory := process.NewSSHFactory(process.NewLocalFactory(logger), loc, logger)
	runner := process.NewCommandRunner(factory, logger)
	fsys, err := filesystem.NewCommand(ctx, runner, t.Path)
	if err != nil {
		factory.Close()
		return nil, err
	}
	return &Backend{
		Scheme:     "ssh",
		Factory:    factory,
		Runner:     runner,
		FileSystem: fsys,
	}, nil
}
