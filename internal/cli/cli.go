// Package cli is the tasker command line: one store operation per command,
// text tables by default and JSON with --json.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/amirbrooks/tasker-engine/internal/backend"
	"github.com/amirbrooks/tasker-engine/internal/config"
	"github.com/amirbrooks/tasker-engine/internal/store"
)

// Exit codes
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConflict = 4
	ExitInternal = 10
)

var errAmbiguous = errors.New("ambiguous id prefix")

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

type GlobalFlags struct {
	Root     string
	JSON     bool
	Verbose  bool
	Backend  string
	RedisURL string
}

type app struct {
	gf     GlobalFlags
	stdout io.Writer
	stderr io.Writer
}

// env is an opened store plus what was used to open it.
type env struct {
	store *store.Store
	cfg   config.Config
	log   *log.Logger
	close func()
}

func Run(args []string) int {
	return RunWith(context.Background(), args, os.Stdout, os.Stderr)
}

// RunWith executes one command line and returns its exit code.
func RunWith(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "tasker:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ue):
		return ExitUsage
	case errors.Is(err, store.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, errAmbiguous):
		return ExitConflict
	case errors.Is(err, store.ErrSaveFailed):
		return ExitInternal
	case errors.Is(err, store.ErrInvalid), errors.Is(err, config.ErrInvalid):
		return ExitUsage
	default:
		return ExitInternal
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tasker",
		Short:         "tasker - categorized task list with a completion grace period",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown command %q", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return usagef("no command given")
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.gf.Root, "root", config.DefaultRoot(), "store root (default: ~/.tasker or TASKER_ROOT)")
	pf.BoolVar(&a.gf.JSON, "json", false, "write JSON to stdout")
	pf.BoolVar(&a.gf.Verbose, "verbose", false, "log debug output to stderr")
	pf.StringVar(&a.gf.Backend, "backend", "", "override backend: file|redis|memory")
	pf.StringVar(&a.gf.RedisURL, "redis-url", "", "override redis connection string")

	root.AddCommand(
		a.addCommand(),
		a.listCommand(),
		a.historyCommand(),
		a.doneCommand(),
		a.editCommand(),
		a.moveCommand(),
		a.removeCommand(),
		a.categoryCommand(),
		a.configCommand(),
		a.clearCommand(),
		a.serveCommand(),
	)
	return root
}

// exactArgs is cobra.ExactArgs reported as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usagef("%s: %v", cmd.UseLine(), err)
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return usagef("%s: %v", cmd.UseLine(), err)
		}
		return nil
	}
}

func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.gf.Root)
	if err != nil {
		return cfg, err
	}
	if a.gf.Backend != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(a.gf.Backend))
	}
	if a.gf.RedisURL != "" {
		cfg.RedisURL = a.gf.RedisURL
	}
	return cfg, cfg.Validate()
}

func (a *app) newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	logger.SetOutput(a.stderr)
	lvl, err := cfg.Level()
	if err != nil {
		lvl = log.WarnLevel
	}
	if a.gf.Verbose {
		lvl = log.DebugLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// open resolves config, builds the configured persister and hydrates a store.
func (a *app) open(ctx context.Context, opts ...store.Option) (*env, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := a.newLogger(cfg)
	grace, err := cfg.GraceDuration()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	closeFn := func() {}
	var p store.Persister
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(backend.ParseRedisOptions(cfg.RedisURL))
		closeFn = func() { _ = client.Close() }
		p = backend.NewRedis(client, cfg.Key, logger)
	case config.BackendMemory:
		m := backend.NewMemory()
		m.MaxBytes = cfg.MaxBytes
		p = m
	default:
		f, err := backend.NewFile(a.gf.Root, cfg.Key, cfg.Format, logger)
		if err != nil {
			return nil, err
		}
		f.MaxBytes = cfg.MaxBytes
		p = f
	}

	base := []store.Option{
		store.WithLogger(logger),
		store.WithGrace(grace),
		store.WithLocation(loc),
	}
	st, err := store.Open(ctx, p, append(base, opts...)...)
	if err != nil {
		closeFn()
		return nil, err
	}
	logger.WithField("backend", cfg.Backend).Debug("store opened")
	return &env{store: st, cfg: cfg, log: logger, close: closeFn}, nil
}

func (a *app) writeJSON(payload any) error {
	b, err := sonic.ConfigStd.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(b))
	return err
}

func isSaveFailed(err error) bool {
	return errors.Is(err, store.ErrSaveFailed)
}

// resolveID accepts a full id or a unique prefix of one.
func resolveID(st *store.Store, selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", usagef("task id is required")
	}
	var matches []string
	for _, t := range st.Tasks() {
		if t.ID == selector {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, selector) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, selector)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d tasks", errAmbiguous, selector, len(matches))
	}
}
