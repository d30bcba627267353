package command

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cfenv-go/internal/cli/config"
	"github.com/yndnr/cfenv-go/internal/cli/output"
	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/storage"
)

func linkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "project", Usage: "Project name", Required: true},
		&cli.StringFlag{Name: "env", Usage: "Environment name", Required: true},
		&cli.StringFlag{Name: "key-prefix", Usage: "KV key prefix (default from settings)"},
		&cli.StringFlag{Name: "mode", Usage: "Storage mode: flat or snapshot (default from settings)"},
	}
}

// SetupCommand returns the setup command.
func SetupCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "Profile name", Value: defaultProfileName},
		&cli.StringFlag{Name: "namespace-id", Usage: "Existing KV namespace ID"},
		&cli.StringFlag{Name: "namespace-name", Usage: "KV namespace title, created if missing (default cfenv-<project>)"},
	}
	flags = append(flags, linkFlags()...)
	flags = append(flags, credentialFlags()...)

	return &cli.Command{
		Name:   "setup",
		Usage:  "Log in if needed, find or create a namespace and link this project",
		Flags:  flags,
		Action: setupAction,
	}
}

type linkView struct {
	Target      string `json:"target" yaml:"target"`
	Profile     string `json:"profile" yaml:"profile"`
	NamespaceID string `json:"namespaceId" yaml:"namespaceId"`
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Created     bool   `json:"namespaceCreated" yaml:"namespaceCreated"`
	KeyPrefix   string `json:"keyPrefix" yaml:"keyPrefix"`
	Mode        string `json:"mode" yaml:"mode"`
	Default     bool   `json:"default" yaml:"default"`
	ConfigPath  string `json:"configPath,omitempty" yaml:"configPath,omitempty"`
}

// Table implements output.Tabular.
func (v linkView) Table() *output.Table {
	return linkList{v}.Table()
}

type linkList []linkView

// Table implements output.Tabular.
func (l linkList) Table() *output.Table {
	t := output.NewTable("", "TARGET", "MODE", "NAMESPACE", "PREFIX", "PROFILE")
	for _, v := range l {
		mark := " "
		if v.Default {
			mark = "*"
		}
		t.AddRow(mark, v.Target, v.Mode, v.NamespaceID, v.KeyPrefix, v.Profile)
	}
	return t
}

func newLinkView(rec *config.LinkRecord, def domain.StorageMode, isDefault bool) linkView {
	mode := rec.StorageMode
	if mode == "" {
		mode = string(def)
	}
	return linkView{
		Target:      rec.Key(),
		Profile:     rec.Profile,
		NamespaceID: rec.NamespaceID,
		KeyPrefix:   rec.KeyPrefix,
		Mode:        mode,
		Default:     isDefault,
	}
}

// linkRecordFromFlags builds a link record from --project, --env,
// --key-prefix and --mode.
func linkRecordFromFlags(c *cli.Context, rt *Runtime, profile, namespaceID string) (*config.LinkRecord, error) {
	def, err := domain.ParseStorageMode(rt.Settings.Sync.Mode, domain.ModeFlat)
	if err != nil {
		return nil, err
	}
	mode, err := domain.ParseStorageMode(c.String("mode"), def)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSpace(c.String("key-prefix"))
	if prefix == "" {
		prefix = rt.Settings.Sync.KeyPrefix
	}

	rec := &config.LinkRecord{
		Profile:     profile,
		NamespaceID: namespaceID,
		KeyPrefix:   prefix,
		Project:     strings.TrimSpace(c.String("project")),
		Environment: strings.TrimSpace(c.String("env")),
		StorageMode: string(mode),
	}
	link, _ := rec.Link(mode)
	if err := link.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func setupAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}
	ctx := rt.Context(c)
	name := c.String("profile")

	// Validate the link fields before touching credentials or the network.
	if _, err := linkRecordFromFlags(c, rt, name, "pending"); err != nil {
		return err
	}

	var profile *config.Profile
	if c.IsSet("account-id") || c.Bool("local") {
		profile, err = login(ctx, c, rt, name)
	} else {
		profile, err = rt.Profiles.Get(name)
	}
	if err != nil {
		return err
	}

	backend, err := rt.OpenBackend(profile)
	if err != nil {
		return err
	}

	view := linkView{}
	namespaceID := strings.TrimSpace(c.String("namespace-id"))
	if namespaceID == "" {
		title := c.String("namespace-name")
		if title == "" {
			title = "cfenv-" + strings.TrimSpace(c.String("project"))
		}
		sp := rt.Spinner("Resolving namespace " + title)
		sp.Start()
		ns, created, err := storage.FindOrCreateNamespace(ctx, backend, title)
		sp.Stop()
		if err != nil {
			return err
		}
		namespaceID = ns.ID
		view.Namespace = ns.Title
		view.Created = created
	}

	rec, err := linkRecordFromFlags(c, rt, profile.Name, namespaceID)
	if err != nil {
		return err
	}
	setDefault := !c.Bool("no-set-default")
	if err := rt.Links.Upsert(rec, setDefault); err != nil {
		return err
	}

	full := newLinkView(rec, domain.ModeFlat, setDefault)
	full.Namespace, full.Created = view.Namespace, view.Created
	full.ConfigPath = rt.Links.Path()

	rt.Status.Success("Setup complete for %s", output.Highlight(rec.Project+"/"+rec.Environment))
	switch {
	case full.Namespace == "":
		rt.Status.Info("Namespace %s (provided)", namespaceID)
	case full.Created:
		rt.Status.Info("Namespace %s (created %q)", namespaceID, full.Namespace)
	default:
		rt.Status.Info("Namespace %s (existing %q)", namespaceID, full.Namespace)
	}
	return rt.Print(full)
}

// LinkCommand returns the link command.
func LinkCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "Profile to use", Value: defaultProfileName},
		&cli.StringFlag{Name: "namespace-id", Usage: "KV namespace ID", Required: true},
		&cli.BoolFlag{Name: "no-set-default", Usage: "Do not make this target the default"},
	}
	flags = append(flags, linkFlags()...)

	return &cli.Command{
		Name:   "link",
		Usage:  "Link this project to an existing namespace without network calls",
		Flags:  flags,
		Action: linkAction,
	}
}

func linkAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	rec, err := linkRecordFromFlags(c, rt, c.String("profile"), strings.TrimSpace(c.String("namespace-id")))
	if err != nil {
		return err
	}
	if strings.TrimSpace(rec.Profile) == "" {
		return domain.ErrInvalidArgument.WithDetails("--profile must not be empty")
	}

	setDefault := !c.Bool("no-set-default")
	if err := rt.Links.Upsert(rec, setDefault); err != nil {
		return err
	}

	view := newLinkView(rec, domain.ModeFlat, setDefault)
	view.ConfigPath = rt.Links.Path()
	rt.Status.Success("Linked %s to namespace %s", output.Highlight(rec.Project+"/"+rec.Environment), rec.NamespaceID)
	return rt.Print(view)
}

// TargetsCommand returns the targets command.
func TargetsCommand() *cli.Command {
	return &cli.Command{
		Name:   "targets",
		Usage:  "List linked project environments (* = default)",
		Action: targetsAction,
	}
}

func targetsAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	cfg, err := rt.Links.Load()
	if err != nil {
		return err
	}
	if cfg == nil || len(cfg.Links) == 0 {
		rt.Status.Info("No targets configured. Run `cfenv setup` or `cfenv link` first.")
		return rt.Print(linkList{})
	}

	def, err := domain.ParseStorageMode(rt.Settings.Sync.Mode, domain.ModeFlat)
	if err != nil {
		return err
	}
	rows := make(linkList, 0, len(cfg.Links))
	for _, rec := range cfg.Sorted() {
		rows = append(rows, newLinkView(rec, def, rec.Key() == cfg.DefaultLinkKey))
	}
	return rt.Print(rows)
}

// UseCommand returns the use command.
func UseCommand() *cli.Command {
	return &cli.Command{
		Name:      "use",
		Usage:     "Set the default target",
		ArgsUsage: "<env | project:env>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Usage: "Project, when the environment is ambiguous"},
		},
		Action: useAction,
	}
}

func useAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return domain.ErrInvalidArgument.WithDetails("expected exactly one target, e.g. `cfenv use prod` or `cfenv use shop:prod`")
	}

	project := c.String("project")
	env := c.Args().First()
	if p, e, ok := strings.Cut(env, ":"); ok {
		project, env = p, e
	}

	rec, err := rt.Links.SetDefault(project, env)
	if err != nil {
		return err
	}

	rt.Status.Success("Default target set to %s", output.Highlight(rec.Project+"/"+rec.Environment))
	def, _ := domain.ParseStorageMode(rt.Settings.Sync.Mode, domain.ModeFlat)
	return rt.Print(newLinkView(rec, def, true))
}
