package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cfenv-go/internal/cli/output"
	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/core/service"
	"github.com/yndnr/cfenv-go/internal/infra/envfile"
	"github.com/yndnr/cfenv-go/internal/infra/filewatch"
	"github.com/yndnr/cfenv-go/internal/infra/shutdown"
	"github.com/yndnr/cfenv-go/internal/storage/snapshot"
)

func secretFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "encryption-key",
			Usage: "Snapshot encryption secret (default $" + envEncryptionKey + ")",
		},
	}
}

// PushCommand returns the push command.
func PushCommand() *cli.Command {
	flags := append(targetFlags(), secretFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Source env file", Value: ".env"},
		&cli.StringFlag{Name: "updated-by", Usage: "Actor label for metadata (default user@host)"},
		&cli.BoolFlag{Name: "no-encrypt", Usage: "Store snapshots in plaintext (not recommended)"},
		&cli.StringFlag{Name: "kdf", Usage: "Key derivation for encrypted snapshots: scrypt or argon2id", Value: snapshot.KDFScrypt},
		&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Push again whenever the file changes"},
	)

	return &cli.Command{
		Name:   "push",
		Usage:  "Push a local env file to the linked target",
		Flags:  flags,
		Action: pushAction,
	}
}

type pushView struct {
	Target    string   `json:"target" yaml:"target"`
	Mode      string   `json:"mode" yaml:"mode"`
	Profile   string   `json:"profile" yaml:"profile"`
	Entries   int      `json:"entries" yaml:"entries"`
	Checksum  string   `json:"checksum" yaml:"checksum"`
	VersionID string   `json:"versionId,omitempty" yaml:"versionId,omitempty"`
	Encrypted bool     `json:"encrypted" yaml:"encrypted"`
	Size      int      `json:"size,omitempty" yaml:"size,omitempty"`
	Deleted   []string `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	UpdatedAt string   `json:"updatedAt" yaml:"updatedAt"`
	UpdatedBy string   `json:"updatedBy" yaml:"updatedBy"`
	File      string   `json:"file" yaml:"file"`
}

// Table implements output.Tabular.
func (v pushView) Table() *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("target", v.Target)
	t.AddRow("mode", v.Mode)
	t.AddRow("profile", v.Profile)
	t.AddRow("entries", output.Count(v.Entries, "variable"))
	if v.VersionID != "" {
		t.AddRow("version", v.VersionID)
		t.AddRow("encrypted", yesNo(v.Encrypted))
		t.AddRow("size", output.Bytes(v.Size))
	}
	if len(v.Deleted) > 0 {
		t.AddRow("deleted", output.Count(len(v.Deleted), "variable"))
	}
	t.AddRow("checksum", v.Checksum)
	return t
}

func pushAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}
	ctx := rt.Context(c)

	t, err := rt.ResolveTarget(c)
	if err != nil {
		return err
	}
	backend, err := rt.OpenBackend(t.profile)
	if err != nil {
		return err
	}
	engine := rt.Engine(backend)
	file := rt.Path(c.String("file"))

	kdf := c.String("kdf")
	if kdf != snapshot.KDFScrypt && kdf != snapshot.KDFArgon2id {
		return domain.ErrInvalidArgument.WithDetailsf("unknown kdf %q, use scrypt or argon2id", kdf)
	}
	opts := service.PushOptions{
		UpdatedBy: updatedBy(c.String("updated-by")),
		Encrypt:   !c.Bool("no-encrypt"),
		Secret:    encryptionSecret(c),
		Seal:      []snapshot.SealOption{snapshot.WithKDF(kdf)},
	}

	push := func(ctx context.Context) error {
		entries, err := envfile.Read(file)
		if err != nil {
			return err
		}

		sp := rt.Spinner(fmt.Sprintf("Pushing %s to %s", output.Count(len(entries), "variable"), t.link.Target()))
		sp.Start()
		res, err := engine.Push(ctx, t.link, entries, opts)
		if err != nil {
			sp.Fail("Push failed")
			return err
		}
		sp.Stop()

		rt.Status.Success("Pushed %s to %s (%s)", output.Count(res.EntriesCount, "variable"), output.Highlight(t.link.Target()), res.Mode)
		return rt.Print(pushView{
			Target:    t.link.Target(),
			Mode:      string(res.Mode),
			Profile:   t.profile.Name,
			Entries:   res.EntriesCount,
			Checksum:  res.Checksum,
			VersionID: res.VersionID,
			Encrypted: res.Encrypted,
			Size:      res.PayloadSize,
			Deleted:   res.Deleted,
			UpdatedAt: res.UpdatedAt.Format(time.RFC3339Nano),
			UpdatedBy: res.UpdatedBy,
			File:      file,
		})
	}

	if err := push(ctx); err != nil {
		return err
	}
	if !c.Bool("watch") {
		return nil
	}
	return watchFile(ctx, rt, file, push)
}

// watchFile re-runs push whenever file changes, until a signal arrives.
// Failed pushes are logged and the watch continues.
func watchFile(ctx context.Context, rt *Runtime, file string, push func(context.Context) error) error {
	w, err := filewatch.New(file,
		filewatch.WithLogger(rt.Logger),
		filewatch.WithDebounce(rt.Settings.Watch.Debounce),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := shutdown.NewHandler(5 * time.Second)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx, func(string) {
			if err := push(ctx); err != nil {
				rt.Status.Warn("push failed: %v", err)
				rt.Logger.Warn("push after file change failed", "file", file, "error", err)
			}
		})
		h.Trigger()
	}()

	rt.Status.Info("Watching %s for changes (Ctrl+C to stop)", file)
	h.OnShutdown(func(context.Context) error {
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return h.Wait(ctx)
}

// PullCommand returns the pull command.
func PullCommand() *cli.Command {
	flags := append(targetFlags(), secretFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "version", Usage: "Snapshot version to pull (default current)"},
		&cli.StringFlag{Name: "out", Usage: "Output file", Value: ".env"},
		&cli.BoolFlag{Name: "overwrite", Usage: "Replace the output file if it exists"},
	)

	return &cli.Command{
		Name:   "pull",
		Usage:  "Pull the linked target into a local env file",
		Flags:  flags,
		Action: pullAction,
	}
}

type pullView struct {
	Target    string `json:"target" yaml:"target"`
	Mode      string `json:"mode" yaml:"mode"`
	Profile   string `json:"profile" yaml:"profile"`
	Entries   int    `json:"entries" yaml:"entries"`
	Checksum  string `json:"checksum" yaml:"checksum"`
	VersionID string `json:"versionId,omitempty" yaml:"versionId,omitempty"`
	Encrypted bool   `json:"encrypted" yaml:"encrypted"`
	UpdatedAt string `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty" yaml:"updatedBy,omitempty"`
	Out       string `json:"out,omitempty" yaml:"out,omitempty"`
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Table implements output.Tabular.
func (v pullView) Table() *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("target", v.Target)
	t.AddRow("mode", v.Mode)
	t.AddRow("profile", v.Profile)
	t.AddRow("entries", output.Count(v.Entries, "variable"))
	if v.VersionID != "" {
		t.AddRow("version", v.VersionID)
		t.AddRow("encrypted", yesNo(v.Encrypted))
	}
	t.AddRow("updated by", v.UpdatedBy)
	t.AddRow("out", v.Out)
	return t
}

func newPullView(t *target, res *service.PullResult) pullView {
	v := pullView{
		Target:    t.link.Target(),
		Mode:      string(res.Mode),
		Profile:   t.profile.Name,
		Entries:   len(res.Entries),
		Checksum:  res.Checksum,
		VersionID: res.VersionID,
		Encrypted: res.Encrypted,
		UpdatedBy: res.UpdatedBy,
	}
	if !res.UpdatedAt.IsZero() {
		v.UpdatedAt = res.UpdatedAt.Format(time.RFC3339Nano)
	}
	return v
}

// pullTarget resolves the target and pulls it with --version and the
// encryption secret.
func pullTarget(c *cli.Context, rt *Runtime) (*target, *service.PullResult, error) {
	t, err := rt.ResolveTarget(c)
	if err != nil {
		return nil, nil, err
	}
	backend, err := rt.OpenBackend(t.profile)
	if err != nil {
		return nil, nil, err
	}

	sp := rt.Spinner("Pulling " + t.link.Target())
	sp.Start()
	res, err := rt.Engine(backend).Pull(rt.Context(c), t.link, service.PullOptions{
		VersionID: c.String("version"),
		Secret:    encryptionSecret(c),
	})
	sp.Stop()
	if err != nil {
		return nil, nil, err
	}
	return t, res, nil
}

func checkOverwrite(path string, overwrite bool) error {
	if !overwrite && envfile.Exists(path) {
		return domain.ErrInvalidArgument.WithDetailsf("output path already exists: %s, use --overwrite to replace it", path)
	}
	return nil
}

// writePrivate writes data atomically and tightens permissions once more,
// ignoring chmod failures.
func writePrivate(rt *Runtime, path string, data []byte) error {
	if err := envfile.WriteFileAtomic(path, data); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		service.BestEffort(rt.Logger, "chmod output file", func() error {
			return os.Chmod(path, envfile.PrivateFileMode)
		}, "path", path)
	}
	return nil
}

func pullAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	out := rt.Path(c.String("out"))
	if err := checkOverwrite(out, c.Bool("overwrite")); err != nil {
		return err
	}

	t, res, err := pullTarget(c, rt)
	if err != nil {
		return err
	}

	data, err := envfile.Marshal(res.Entries)
	if err != nil {
		return err
	}
	if err := writePrivate(rt, out, []byte(data)); err != nil {
		return err
	}

	view := newPullView(t, res)
	view.Out = out
	rt.Status.Success("Pulled %s from %s into %s", output.Count(view.Entries, "variable"), output.Highlight(view.Target), out)
	return rt.Print(view)
}

// ExportCommand returns the export command.
func ExportCommand() *cli.Command {
	flags := append(targetFlags(), secretFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "version", Usage: "Snapshot version to export (default current)"},
		&cli.StringFlag{Name: "format", Usage: "Export format: dotenv, json or yaml", Value: string(envfile.FormatDotenv)},
		&cli.StringFlag{Name: "out", Usage: "Write the export to a file"},
		&cli.BoolFlag{Name: "stdout", Usage: "Print to stdout even with --out"},
		&cli.BoolFlag{Name: "overwrite", Usage: "Replace the --out file if it exists"},
	)

	return &cli.Command{
		Name:   "export",
		Usage:  "Print or write the linked target's variables",
		Flags:  flags,
		Action: exportAction,
	}
}

func exportAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	format, err := envfile.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	var out string
	if c.String("out") != "" {
		out = rt.Path(c.String("out"))
		if err := checkOverwrite(out, c.Bool("overwrite")); err != nil {
			return err
		}
	}

	t, res, err := pullTarget(c, rt)
	if err != nil {
		return err
	}
	data, err := envfile.Render(res.Entries, format)
	if err != nil {
		return err
	}

	if out != "" {
		if err := writePrivate(rt, out, data); err != nil {
			return err
		}
	}
	if out == "" || c.Bool("stdout") {
		_, err := rt.Stdout.Write(data)
		return err
	}

	view := newPullView(t, res)
	view.Out = out
	view.Format = string(format)
	rt.Status.Success("Exported %s from %s to %s (%s)", output.Count(view.Entries, "variable"), output.Highlight(view.Target), out, format)
	return rt.Print(view)
}

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show snapshot versions (newest first) or flat metadata",
		Flags: append(targetFlags(),
			&cli.IntFlag{Name: "limit", Usage: "Maximum versions to show", Value: 20},
		),
		Action: historyAction,
	}
}

type historyView struct {
	Target   string               `json:"target" yaml:"target"`
	Mode     string               `json:"mode" yaml:"mode"`
	Metadata *domain.FlatMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Versions []string             `json:"versions,omitempty" yaml:"versions,omitempty"`
}

// Table implements output.Tabular.
func (v historyView) Table() *output.Table {
	if v.Mode == string(domain.ModeFlat) {
		t := output.NewTable("UPDATED", "BY", "ENTRIES", "CHECKSUM")
		if m := v.Metadata; m != nil {
			by := m.UpdatedBy
			if by == "" {
				by = "unknown"
			}
			t.AddRow(m.UpdatedAt.Format(time.RFC3339)+" ("+output.Ago(m.UpdatedAt)+")", by, fmt.Sprint(m.EntriesCount), m.Checksum)
		}
		return t
	}

	t := output.NewTable("VERSION")
	for _, id := range v.Versions {
		t.AddRow(id)
	}
	return t
}

func historyAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}
	ctx := rt.Context(c)

	limit := c.Int("limit")
	if limit <= 0 {
		return domain.ErrInvalidArgument.WithDetails("--limit must be positive")
	}

	t, err := rt.ResolveTarget(c)
	if err != nil {
		return err
	}
	backend, err := rt.OpenBackend(t.profile)
	if err != nil {
		return err
	}
	engine := rt.Engine(backend)

	view := historyView{Target: t.link.Target(), Mode: string(t.link.Mode)}
	switch t.link.Mode {
	case domain.ModeFlat:
		meta, err := engine.FlatMetadata(ctx, t.link)
		if err != nil {
			return err
		}
		if meta == nil {
			rt.Status.Info("No flat metadata found.")
		}
		view.Metadata = meta
	case domain.ModeSnapshot:
		ids, err := engine.History(ctx, t.link, limit)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			rt.Status.Info("No versions found.")
		}
		view.Versions = ids
	default:
		return domain.ErrInvalidStorageMode.WithDetailsf("%q", t.link.Mode)
	}
	return rt.Print(view)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
