package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Ning0612/Sftpmirror/internal/adapter/remote"
	"github.com/Ning0612/Sftpmirror/internal/config"
	"github.com/Ning0612/Sftpmirror/internal/core/scan"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/logger"
	"github.com/Ning0612/Sftpmirror/internal/progress"
	"github.com/Ning0612/Sftpmirror/internal/service"
	"github.com/Ning0612/Sftpmirror/internal/state"
	"github.com/Ning0612/Sftpmirror/internal/task"
	"github.com/Ning0612/Sftpmirror/internal/workspace"
)

// DefaultWorkspaceName is the workspace applied when --workspace is not given
const DefaultWorkspaceName = "workspace.yaml"

// app carries what every command needs after flag parsing
type app struct {
	flags   globalFlags
	cfg     *config.Config
	history *state.Manager
	svc     *service.Service

	source domain.Endpoint
	target domain.Endpoint
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	lc := cfg.Log.Logger()
	if a.flags.verbose {
		lc.Level = logger.LevelDebug
	}
	lc.Quiet = a.flags.quiet
	lc.Console = cmd.ErrOrStderr()
	if err := logger.Init(lc); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Debug("Configuration loaded", "command", cmd.CommandPath(), "state_dir", cfg.StateDir)

	a.source, a.target = cfg.Source, cfg.Target
	return a.applyWorkspace()
}

// applyWorkspace overlays the --workspace file, or the saved default one
func (a *app) applyWorkspace() error {
	path := a.flags.workspacePath
	if path == "" {
		path = a.defaultWorkspacePath()
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	ws := workspace.Workspace{Source: a.source, Target: a.target}
	if err := workspace.NewStore(afero.NewOsFs()).Load(config.ExpandPath(path), &ws); err != nil {
		return err
	}
	a.source, a.target = ws.Resolved()
	logger.Get().Debug("Workspace applied", "path", path)
	return nil
}

func (a *app) defaultWorkspacePath() string {
	return filepath.Join(a.cfg.StateDir, DefaultWorkspaceName)
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Get().Warn("Failed to close history", "error", err)
		}
		a.history = nil
	}
}

// backupTimeout doubles the connect timeout for remote backups
func backupTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return remote.BackupConnectTimeout
	}
	return 2 * d
}

// service builds the task service on first use
func (a *app) service() (*service.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	history, err := state.NewManager(a.cfg.StateDir)
	if err != nil {
		logger.Get().Warn("Run history unavailable", "error", err)
		history = nil
	}
	a.history = history

	dialer := remote.NewDialer(remote.Options{
		ConnectTimeout: a.cfg.ConnectTimeout,
		KnownHostsFile: a.cfg.KnownHosts,
	})
	svc, err := service.New(service.Options{
		Dialer:       dialer,
		BackupDialer: dialer.WithTimeout(backupTimeout(a.cfg.ConnectTimeout)),
		Scanner: scan.New(scan.Options{
			Algorithm:      a.cfg.Algorithm(),
			IgnorePatterns: a.cfg.Scan.Ignore,
		}),
		History:          history,
		LockDir:          a.cfg.StateDir,
		LockStaleTimeout: a.cfg.LockStaleTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

// endpoint returns the source or target with credentials filled in
func (a *app) endpoint(cmd *cobra.Command, side service.Side) (domain.Endpoint, error) {
	ep := &a.source
	if side == service.SideTarget {
		ep = &a.target
	}
	if err := promptPassword(cmd, ep); err != nil {
		return domain.Endpoint{}, err
	}
	return *ep, nil
}

// pair returns both endpoints with credentials filled in
func (a *app) pair(cmd *cobra.Command) (domain.Endpoint, domain.Endpoint, error) {
	src, err := a.endpoint(cmd, service.SideSource)
	if err != nil {
		return src, src, err
	}
	tgt, err := a.endpoint(cmd, service.SideTarget)
	return src, tgt, err
}

// promptPassword asks for a password when the endpoint has no credentials
// and stdin is a terminal.
func promptPassword(cmd *cobra.Command, ep *domain.Endpoint) error {
	if ep.Password != "" || ep.PrivateKeyPath != "" || ep.Host == "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", ep)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	ep.Password = string(pw)
	return nil
}

// confirm asks a yes/no question on the terminal. Without a terminal the
// answer is no.
func confirm(cmd *cobra.Command, question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

var counterRe = regexp.MustCompile(`\[(\d+)/(\d+)\]$`)

// progressPrinter writes task progress lines, adding a bar to counted lines
func progressPrinter(w io.Writer) func(string) {
	return func(msg string) {
		if m := counterRe.FindStringSubmatch(msg); m != nil {
			cur, _ := strconv.ParseInt(m[1], 10, 64)
			total, _ := strconv.ParseInt(m[2], 10, 64)
			msg = msg + " " + progress.FormatProgress(cur, total, 20)
		}
		fmt.Fprintln(w, msg)
	}
}

// wait consumes a task stream, printing progress to stderr
func wait[T any](cmd *cobra.Command, s *task.Stream) (T, error) {
	return task.Result[T](cmd.Context(), s, progressPrinter(cmd.ErrOrStderr()))
}

func parseSide(cmd *cobra.Command) (service.Side, error) {
	v, _ := cmd.Flags().GetString("side")
	return service.ParseSide(v)
}

// singleSide rejects "both" for commands that act on one endpoint
func singleSide(cmd *cobra.Command) (service.Side, error) {
	side, err := parseSide(cmd)
	if err != nil {
		return 0, err
	}
	if side == service.SideBoth {
		return 0, fmt.Errorf("--side must be source or target")
	}
	return side, nil
}
