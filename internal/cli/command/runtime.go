package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cfenv-go/internal/cli/config"
	"github.com/yndnr/cfenv-go/internal/cli/output"
	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/core/service"
	"github.com/yndnr/cfenv-go/internal/infra/buildinfo"
	"github.com/yndnr/cfenv-go/internal/storage"
	"github.com/yndnr/cfenv-go/internal/storage/cloudflare"
	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
	"github.com/yndnr/cfenv-go/internal/telemetry/metric"
)

// Environment variables read by commands.
const (
	envAPIToken      = "CLOUDFLARE_API_TOKEN"
	envEncryptionKey = "CFENV_ENCRYPTION_KEY"
)

// Runtime is the per-invocation state shared by commands.
type Runtime struct {
	Settings *config.Settings
	Logger   logger.Logger
	Metrics  *metric.Registry
	Profiles *config.ProfileStore
	Links    *config.LinkStore

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	Format output.Format
	Status *output.Status

	// Dir is the absolute project directory.
	Dir string

	verbose bool
	closers []func() error
}

func newRuntime(c *cli.Context) (*Runtime, error) {
	settings, err := config.LoadSettings(c.String("config"))
	if err != nil {
		return nil, err
	}

	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(c.String("dir"))
	if err != nil {
		return nil, err
	}

	level := settings.Log.Level
	switch {
	case c.Bool("debug"):
		level = "debug"
	case c.Bool("verbose"):
		level = "info"
	}

	stderr := c.App.ErrWriter
	if stderr == nil {
		stderr = os.Stderr
	}
	stdout := c.App.Writer
	if stdout == nil {
		stdout = os.Stdout
	}

	log, err := logger.New(logger.Config{
		Level:  level,
		Format: settings.Log.Format,
		Output: stderr,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)

	return &Runtime{
		Settings: settings,
		Logger:   log,
		Metrics:  metric.NewRegistry(),
		Profiles: config.NewProfileStore(""),
		Links:    config.NewLinkStore(dir),
		Stdout:   stdout,
		Stderr:   stderr,
		Stdin:    os.Stdin,
		Format:   format,
		// Status lines would corrupt machine-readable output.
		Status:  output.NewStatus(stderr, format != output.FormatText),
		Dir:     dir,
		verbose: c.Bool("verbose") || c.Bool("debug"),
	}, nil
}

// Context returns a context carrying the logger and a fresh operation id.
func (rt *Runtime) Context(c *cli.Context) context.Context {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.WithLogger(ctx, rt.Logger)
	return logger.WithOperationID(ctx, logger.NewOperationID())
}

// Print renders v in the selected output format on stdout.
func (rt *Runtime) Print(v any) error {
	return output.NewFormatter(rt.Format).Format(rt.Stdout, v)
}

// Spinner returns a spinner on stderr, animated only for interactive
// text output.
func (rt *Runtime) Spinner(message string) *output.Spinner {
	return output.NewSpinner(rt.Stderr, message, rt.Format == output.FormatText && !rt.verbose)
}

// Path resolves p against the project directory.
func (rt *Runtime) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rt.Dir, p)
}

// Close releases backends opened during the invocation.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Engine builds a sync engine over backend.
func (rt *Runtime) Engine(backend storage.Store) *service.Engine {
	return service.NewEngine(backend,
		service.WithLogger(rt.Logger),
		service.WithMetrics(rt.Metrics),
	)
}

// NewClient creates a Cloudflare client from the settings.
func (rt *Runtime) NewClient(accountID, apiToken string) (*cloudflare.Client, error) {
	cfg := rt.Settings.ClientConfig(accountID, apiToken)
	if rt.Settings.API.UserAgent == "" {
		cfg.UserAgent = buildinfo.UserAgent()
	}
	cfg.Logger = rt.Logger
	cfg.Metrics = rt.Metrics
	return cloudflare.New(cfg)
}

// OpenBackend opens the backend a profile points at. The backend is
// closed with the runtime.
func (rt *Runtime) OpenBackend(p *config.Profile) (storage.Backend, error) {
	if p.IsLocal() {
		store, err := storage.OpenBadger(storage.DefaultBadgerConfig(rt.Settings.Local.DataDir), rt.Logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	}

	apiToken := p.APIToken
	if env := os.Getenv(envAPIToken); env != "" {
		apiToken = env
	}
	if apiToken == "" {
		return nil, fmt.Errorf("profile %q has no API token configured", p.Name)
	}
	return rt.NewClient(p.AccountID, apiToken)
}

// target is a resolved link with the profile it runs under.
type target struct {
	record  *config.LinkRecord
	link    domain.Link
	profile *config.Profile
}

// ResolveTarget picks the link selected by --project/--env, applies the
// --mode override and loads the link's profile (or --profile).
func (rt *Runtime) ResolveTarget(c *cli.Context) (*target, error) {
	rec, err := rt.Links.Resolve(stringFlag(c, "project"), stringFlag(c, "env"))
	if err != nil {
		return nil, err
	}

	def, err := domain.ParseStorageMode(rt.Settings.Sync.Mode, domain.ModeFlat)
	if err != nil {
		return nil, err
	}
	link, err := rec.Link(def)
	if err != nil {
		return nil, err
	}
	if mode := stringFlag(c, "mode"); mode != "" {
		if link.Mode, err = domain.ParseStorageMode(mode, link.Mode); err != nil {
			return nil, err
		}
	}

	name := stringFlag(c, "profile")
	if name == "" {
		name = rec.Profile
	}
	profile, err := rt.Profiles.Get(name)
	if err != nil {
		return nil, err
	}

	return &target{record: rec, link: link, profile: profile}, nil
}

// encryptionSecret returns --encryption-key, else CFENV_ENCRYPTION_KEY.
func encryptionSecret(c *cli.Context) string {
	if c.IsSet("encryption-key") {
		return c.String("encryption-key")
	}
	return os.Getenv(envEncryptionKey)
}

// updatedBy returns the actor label, defaulting to user@host.
func updatedBy(explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return name + "@" + host
}
