package process

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/me/batchgate/internal/shell"
	"github.com/me/batchgate/pkg/model"
)

// Location is a parsed "[user@]host[:port]" target.
type Location struct {
	User string
	Host string
	Port int
}

// ParseLocation parses "[user@]host[:port]".
func ParseLocation(s string) (Location, error) {
	var loc Location
	s = strings.TrimSpace(s)
	if user, rest, ok := strings.Cut(s, "@"); ok {
		loc.User = user
		s = rest
	}
	if host, port, ok := strings.Cut(s, ":"); ok {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Location{}, model.NewError(model.CodeBadParameter, "ssh", "invalid port in location %q", s)
		}
		loc.Port = p
		s = host
	}
	if s == "" {
		return Location{}, model.NewError(model.CodeBadParameter, "ssh", "location has no host")
	}
	loc.Host = s
	return loc, nil
}

func (l Location) String() string {
	s := l.Host
	if l.User != "" {
		s = l.User + "@" + s
	}
	if l.Port != 0 {
		s += ":" + strconv.Itoa(l.Port)
	}
	return s
}

// SSHFactory starts processes on a remote host through the OpenSSH client.
// The transport itself (keys, agents, known hosts) is the client's business;
// this factory only builds the command line.
type SSHFactory struct {
	local    Factory
	location Location
	binary   string
	options  []string
	logger   *slog.Logger
}

// NewSSHFactory creates an SSHFactory that spawns the ssh client through local.
func NewSSHFactory(local Factory, location Location, logger *slog.Logger) *SSHFactory {
	return &SSHFactory{
		local:    local,
		location: location,
		binary:   "ssh",
		options:  []string{"-T", "-o", "BatchMode=yes"},
		logger:   logger.With("component", "ssh-process", "host", location.Host),
	}
}

// CreateInteractiveProcess runs desc on the remote host.
func (f *SSHFactory) CreateInteractiveProcess(desc model.JobDescription, jobID string) (InteractiveProcess, error) {
	if desc.Executable == "" {
		return nil, model.NewError(model.CodeIncompleteJobDescription, "ssh", "executable missing")
	}
	wrapped := model.JobDescription{
		Executable: f.binary,
		Arguments:  f.Arguments(desc),
	}
	f.logger.Debug("starting remote process", "job_id", jobID, "executable", desc.Executable)
	return f.local.CreateInteractiveProcess(wrapped, jobID)
}

// Arguments returns the ssh client arguments that run desc remotely.
func (f *SSHFactory) Arguments(desc model.JobDescription) []string {
	args := append([]string(nil), f.options...)
	if f.location.Port != 0 {
		args = append(args, "-p", strconv.Itoa(f.location.Port))
	}
	if f.location.User != "" {
		args = append(args, "-l", f.location.User)
	}
	return append(args, f.location.Host, "--", RemoteCommand(desc))
}

// RemoteCommand renders desc as one sh command line.
func RemoteCommand(desc model.JobDescription) string {
	var b strings.Builder
	if desc.WorkingDirectory != "" {
		fmt.Fprintf(&b, "cd %s && ", shell.Quote(desc.WorkingDirectory))
	}
	b.WriteString("exec ")
	if len(desc.Environment) > 0 {
		keys := make([]string, 0, len(desc.Environment))
		for k := range desc.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("env ")
		for _, k := range keys {
			b.WriteString(shell.Quote(k+"="+desc.Environment[k]))
			b.WriteByte(' ')
		}
	}
	b.WriteString(shell.Join(append([]string{desc.Executable}, desc.Arguments...)...))
	return b.String()
}

// IsOpen reports whether the underlying local factory is open.
func (f *SSHFactory) IsOpen() bool {
	return f.local.IsOpen()
}

// Close closes the underlying local factory.
func (f *SSHFactory) Close() error {
	return f.local.Close()
}
