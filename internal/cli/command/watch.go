package command

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/core/service"
	"github.com/yndnr/cfenv-go/internal/infra/envfile"
	"github.com/yndnr/cfenv-go/internal/infra/shutdown"
	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
)

const watchShutdownTimeout = 10 * time.Second

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Poll a flat target and rewrite a local env file on every change",
		Flags: append(targetFlags(),
			&cli.StringFlag{Name: "out", Usage: "Env file to keep up to date", Value: ".env"},
			&cli.DurationFlag{Name: "interval", Usage: "Poll interval (default from settings, min 1s)"},
			&cli.DurationFlag{Name: "max-interval", Usage: "Backoff cap after failures (default from settings)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address, e.g. :9464"},
			&cli.StringFlag{Name: "log-format", Usage: "Log format: json or text", Value: "json"},
			&cli.BoolFlag{Name: "once", Usage: "Refresh once and exit"},
		),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	level := "info"
	if c.Bool("debug") {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: c.String("log-format"), Output: rt.Stderr})
	if err != nil {
		return err
	}
	rt.Logger = log
	ctx := rt.Context(c)

	t, err := rt.ResolveTarget(c)
	if err != nil {
		return err
	}
	if t.link.Mode != domain.ModeFlat {
		return domain.ErrInvalidStorageMode.WithDetailsf("watch polls flat storage, %s uses %s", t.link.Target(), t.link.Mode)
	}
	backend, err := rt.OpenBackend(t.profile)
	if err != nil {
		return err
	}

	out := rt.Path(c.String("out"))
	cfg := service.PollerConfig{
		Interval:    rt.Settings.Watch.Interval,
		MaxInterval: rt.Settings.Watch.MaxInterval,
		OnUpdate: func(ctx context.Context, u service.Update, reason service.Reason) error {
			data, err := envfile.Marshal(u.Entries)
			if err != nil {
				return err
			}
			if err := writePrivate(rt, out, []byte(data)); err != nil {
				return err
			}
			log.Info("env file updated",
				"file", out,
				"reason", string(reason),
				"entries", u.EntriesCount,
				"checksum", u.Checksum,
				"updated_by", u.UpdatedBy,
			)
			return nil
		},
		OnError: func(err error) {
			log.Warn("hot update cycle failed", "error", err)
		},
		Logger:  log,
		Metrics: rt.Metrics,
	}
	if c.IsSet("interval") {
		cfg.Interval = c.Duration("interval")
	}
	if c.IsSet("max-interval") {
		cfg.MaxInterval = c.Duration("max-interval")
	}

	poller, err := service.NewPoller(rt.Engine(backend), t.link, cfg)
	if err != nil {
		return err
	}

	if c.Bool("once") {
		changed, err := poller.Refresh(ctx, service.ReasonInitial)
		if err != nil {
			return err
		}
		rt.Status.Success("Refreshed %s (changed: %s)", out, yesNo(changed))
		return nil
	}

	h := shutdown.NewHandler(watchShutdownTimeout)

	if err := poller.Start(ctx); err != nil {
		return err
	}
	h.OnShutdown(func(context.Context) error {
		poller.Stop()
		return nil
	})

	if addr := c.String("metrics-addr"); addr != "" {
		srv, err := serveMetrics(rt, addr)
		if err != nil {
			poller.Stop()
			return err
		}
		h.OnShutdown(srv.Shutdown)
	}

	log.Info("watching", "target", t.link.Target(), "file", out)
	return h.Wait(ctx)
}

func serveMetrics(rt *Runtime, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.Metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("metrics server failed", "error", err)
		}
	}()
	rt.Logger.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}
