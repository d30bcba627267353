package command

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/yndnr/cfenv-go/internal/cli/config"
	"github.com/yndnr/cfenv-go/internal/cli/output"
	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/storage/snapshot"
	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
)

const defaultProfileName = "default"

// KeygenCommand returns the keygen command.
func KeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a strong CFENV_ENCRYPTION_KEY value",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "length",
				Usage: "Random bytes before base64url encoding",
				Value: 32,
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print only the key value",
			},
		},
		Action: keygenAction,
	}
}

func keygenAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	secret, err := snapshot.GenerateSecret(c.Int("length"))
	if err != nil {
		return err
	}
	if c.Bool("raw") {
		_, err = fmt.Fprintln(rt.Stdout, secret)
		return err
	}
	_, err = fmt.Fprintf(rt.Stdout, "export %s='%s'\n", envEncryptionKey, secret)
	return err
}

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "account-id",
			Usage: "Cloudflare account ID",
		},
		&cli.StringFlag{
			Name:  "api-token",
			Usage: "Cloudflare API token (default $CLOUDFLARE_API_TOKEN, else prompted)",
		},
		&cli.BoolFlag{
			Name:  "local",
			Usage: "Store variables in a local database instead of Cloudflare",
		},
		&cli.BoolFlag{
			Name:  "no-set-default",
			Usage: "Do not make this profile the default",
		},
	}
}

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Verify Cloudflare credentials and save them as a profile",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "Profile name", Value: defaultProfileName},
		}, credentialFlags()...),
		Action: loginAction,
	}
}

func loginAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	p, err := login(rt.Context(c), c, rt, c.String("profile"))
	if err != nil {
		return err
	}

	if p.IsLocal() {
		rt.Status.Success("Saved local profile %q", p.Name)
	} else {
		rt.Status.Success("Saved profile %q for account %s", p.Name, p.AccountID)
	}
	return rt.Print(profileView(p, !c.Bool("no-set-default")))
}

// login verifies the credentials given by flags and stores them under name.
func login(ctx context.Context, c *cli.Context, rt *Runtime, name string) (*config.Profile, error) {
	if strings.TrimSpace(name) == "" {
		name = defaultProfileName
	}
	setDefault := !c.Bool("no-set-default")

	if c.Bool("local") {
		p := &config.Profile{Name: name, AccountID: config.BackendLocal, Backend: config.BackendLocal}
		return p, rt.Profiles.Upsert(p, setDefault)
	}

	accountID := strings.TrimSpace(c.String("account-id"))
	if accountID == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("missing account ID, pass --account-id")
	}
	apiToken, err := readAPIToken(c, rt)
	if err != nil {
		return nil, err
	}

	client, err := rt.NewClient(accountID, apiToken)
	if err != nil {
		return nil, err
	}

	sp := rt.Spinner("Verifying API token")
	sp.Start()
	status, err := client.VerifyCredential(ctx)
	sp.Stop()
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !status.Active() {
		return nil, domain.ErrCredentialInactive.WithDetailsf("status: %s", status.Status)
	}

	p := &config.Profile{
		Name:       name,
		AccountID:  accountID,
		APIToken:   apiToken,
		AuthSource: "api-token",
		Backend:    config.BackendCloudflare,
	}
	if err := rt.Profiles.Upsert(p, setDefault); err != nil {
		return nil, err
	}
	return p, nil
}

// readAPIToken takes --api-token, then CLOUDFLARE_API_TOKEN, then prompts
// on a terminal or reads one line from piped stdin.
func readAPIToken(c *cli.Context, rt *Runtime) (string, error) {
	if t := strings.TrimSpace(c.String("api-token")); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(os.Getenv(envAPIToken)); t != "" {
		return t, nil
	}
	missing := domain.ErrInvalidArgument.WithDetails("missing API token, pass --api-token or set " + envAPIToken)
	if rt.Stdin == nil {
		return "", missing
	}

	var raw string
	if f, ok := rt.Stdin.(*os.File); ok && output.IsTerminal(f) {
		fmt.Fprint(rt.Stderr, "Cloudflare API token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(rt.Stderr)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		raw = string(b)
	} else {
		raw, _ = bufio.NewReader(rt.Stdin).ReadString('\n')
	}

	if t := strings.TrimSpace(raw); t != "" {
		return t, nil
	}
	return "", missing
}

// ProfilesCommand returns the profiles command.
func ProfilesCommand() *cli.Command {
	return &cli.Command{
		Name:   "profiles",
		Usage:  "List saved credential profiles",
		Action: profilesAction,
	}
}

type profileRow struct {
	Name      string `json:"name" yaml:"name"`
	Backend   string `json:"backend" yaml:"backend"`
	AccountID string `json:"accountId" yaml:"accountId"`
	APIToken  string `json:"apiToken,omitempty" yaml:"apiToken,omitempty"`
	Default   bool   `json:"default" yaml:"default"`
	UpdatedAt string `json:"updatedAt" yaml:"updatedAt"`
}

func profileView(p *config.Profile, isDefault bool) profileRow {
	backend := p.Backend
	if backend == "" {
		backend = config.BackendCloudflare
	}
	row := profileRow{
		Name:      p.Name,
		Backend:   backend,
		AccountID: p.AccountID,
		Default:   isDefault,
	}
	if p.APIToken != "" {
		row.APIToken = logger.Mask(p.APIToken)
	}
	if !p.UpdatedAt.IsZero() {
		row.UpdatedAt = output.Ago(p.UpdatedAt)
	}
	return row
}

// Table implements output.Tabular.
func (r profileRow) Table() *output.Table {
	return profileList{r}.Table()
}

type profileList []profileRow

// Table implements output.Tabular.
func (l profileList) Table() *output.Table {
	t := output.NewTable("", "NAME", "BACKEND", "ACCOUNT", "TOKEN", "UPDATED")
	for _, r := range l {
		mark := " "
		if r.Default {
			mark = "*"
		}
		t.AddRow(mark, r.Name, r.Backend, r.AccountID, r.APIToken, r.UpdatedAt)
	}
	return t
}

func profilesAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}

	f, err := rt.Profiles.Load()
	if err != nil {
		return err
	}
	if len(f.Profiles) == 0 {
		rt.Status.Info("No profiles configured. Run `cfenv login`.")
		return rt.Print(profileList{})
	}

	rows := make(profileList, 0, len(f.Profiles))
	for _, name := range f.Names() {
		rows = append(rows, profileView(f.Profiles[name], name == f.DefaultProfile))
	}
	return rt.Print(rows)
}
