package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/cfenv-go/internal/cli/config"
	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/infra/envfile"
	"github.com/yndnr/cfenv-go/internal/storage/cloudflare/cftest"
)

// testEnv runs the CLI against a fake Workers KV API in an isolated
// config home and project directory.
type testEnv struct {
	t      *testing.T
	server *cftest.Server
	dir    string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := cftest.NewServer()
	t.Cleanup(srv.Close)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CFENV_API__BASE_URL", srv.URL)
	t.Setenv("CFENV_API__MAX_RETRIES", "0")
	t.Setenv("CFENV_LOCAL__DATA_DIR", t.TempDir())
	t.Setenv("CFENV_CONFIG", "")
	t.Setenv(envAPIToken, "")
	t.Setenv(envEncryptionKey, "")

	return &testEnv{t: t, server: srv, dir: t.TempDir()}
}

func (e *testEnv) run(args ...string) error {
	e.t.Helper()
	e.stdout.Reset()
	e.stderr.Reset()

	app := App()
	app.Writer = &e.stdout
	app.ErrWriter = &e.stderr
	return app.Run(append([]string{"cfenv", "--dir", e.dir}, args...))
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	if err := e.run(args...); err != nil {
		e.t.Fatalf("cfenv %s: error = %v\nstderr: %s", strings.Join(args, " "), err, e.stderr.String())
	}
	return e.stdout.String()
}

func (e *testEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		e.t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func (e *testEnv) login() {
	e.t.Helper()
	e.mustRun("login", "--account-id", "acct-1", "--api-token", cftest.Token)
}

func TestApp(t *testing.T) {
	app := App()
	if app.Name != "cfenv" {
		t.Errorf("Name = %q, want cfenv", app.Name)
	}

	names := make(map[string]bool)
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}
	for _, want := range []string{"keygen", "login", "profiles", "setup", "link", "targets", "use", "push", "pull", "export", "history", "watch", "version"} {
		if !names[want] {
			t.Errorf("missing command %q", want)
		}
	}

	flags := make(map[string]bool)
	for _, f := range app.Flags {
		flags[f.Names()[0]] = true
	}
	for _, want := range []string{"config", "profile", "project", "env", "output", "verbose", "debug"} {
		if !flags[want] {
			t.Errorf("missing global flag %q", want)
		}
	}
}

func TestKeygen(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun("keygen")
	if !strings.HasPrefix(out, "export CFENV_ENCRYPTION_KEY='") {
		t.Errorf("keygen output = %q", out)
	}

	raw := strings.TrimSpace(e.mustRun("keygen", "--raw", "--length", "16"))
	if strings.Contains(raw, "export") || len(raw) < 20 {
		t.Errorf("keygen --raw = %q", raw)
	}

	if err := e.run("keygen", "--length", "4"); !errors.Is(err, domain.ErrSecretLength) {
		t.Errorf("keygen --length 4 error = %v, want ErrSecretLength", err)
	}
}

func TestLoginAndProfiles(t *testing.T) {
	e := newTestEnv(t)

	e.login()

	p, err := config.NewProfileStore("").Get("")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.AccountID != "acct-1" || p.APIToken != cftest.Token {
		t.Errorf("saved profile = %+v", p)
	}

	out := e.mustRun("profiles")
	if !strings.Contains(out, "default") || strings.Contains(out, cftest.Token) {
		t.Errorf("profiles output should list the profile with a masked token:\n%s", out)
	}

	err = e.run("login", "--profile", "bad", "--account-id", "acct-1", "--api-token", "wrong")
	if !errors.Is(err, domain.ErrRemoteRejected) {
		t.Errorf("login with a bad token error = %v, want ErrRemoteRejected", err)
	}

	if err := e.run("login", "--api-token", cftest.Token); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("login without account error = %v", err)
	}
}

func TestLogin_TokenFromEnv(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv(envAPIToken, cftest.Token)

	e.mustRun("-o", "json", "login", "--profile", "ci", "--account-id", "acct-2")

	var row profileRow
	if err := json.Unmarshal(e.stdout.Bytes(), &row); err != nil {
		t.Fatalf("json output: %v\n%s", err, e.stdout.String())
	}
	if row.Name != "ci" || !row.Default || row.AccountID != "acct-2" {
		t.Errorf("login output = %+v", row)
	}
}

func TestSetupPushPull_Flat(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	e.mustRun("setup", "--project", "shop", "--env", "dev")

	rec, err := config.NewLinkStore(e.dir).Resolve("", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.StorageMode != "flat" || rec.KeyPrefix != "cfenv" {
		t.Errorf("link = %+v", rec)
	}

	e.writeFile(".env", "API_URL=https://example.com\nSECRET='pa$$word'\n")
	e.mustRun("push")

	got, ok := e.server.Value(rec.NamespaceID, "cfenv:shop:dev:vars:SECRET")
	if !ok || got != "pa$$word" {
		t.Errorf("stored SECRET = %q, %v", got, ok)
	}
	if _, ok := e.server.Value(rec.NamespaceID, "cfenv:shop:dev:meta"); !ok {
		t.Error("flat metadata not written")
	}

	e.mustRun("pull", "--out", "pulled.env")
	pulled, err := envfile.Read(filepath.Join(e.dir, "pulled.env"))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := domain.Env{"API_URL": "https://example.com", "SECRET": "pa$$word"}
	if !pulled.Equal(want) {
		t.Errorf("pulled = %v, want %v", pulled, want)
	}
	info, _ := os.Stat(filepath.Join(e.dir, "pulled.env"))
	if info.Mode().Perm() != 0o600 {
		t.Errorf("pulled file mode = %v, want 0600", info.Mode().Perm())
	}

	if err := e.run("pull", "--out", "pulled.env"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("pull over an existing file error = %v", err)
	}
	e.mustRun("pull", "--out", "pulled.env", "--overwrite")

	e.mustRun("-o", "json", "history")
	var hist historyView
	if err := json.Unmarshal(e.stdout.Bytes(), &hist); err != nil {
		t.Fatalf("history json: %v", err)
	}
	if hist.Metadata == nil || hist.Metadata.EntriesCount != 2 {
		t.Errorf("history = %+v", hist)
	}
}

func TestPush_RemovesDeletedVariables(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	ns := e.server.AddNamespace("existing")
	e.mustRun("link", "--project", "shop", "--env", "dev", "--namespace-id", ns)

	e.writeFile(".env", "A=1\nB=2\n")
	e.mustRun("push")
	e.writeFile(".env", "A=1\n")
	e.mustRun("-o", "json", "push")

	var view pushView
	if err := json.Unmarshal(e.stdout.Bytes(), &view); err != nil {
		t.Fatalf("push json: %v", err)
	}
	if len(view.Deleted) != 1 || view.Deleted[0] != "B" {
		t.Errorf("Deleted = %v, want [B]", view.Deleted)
	}
	if _, ok := e.server.Value(ns, "cfenv:shop:dev:vars:B"); ok {
		t.Error("B should be deleted remotely")
	}
}

func TestPull_EmptyFlatTarget(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	e.mustRun("setup", "--project", "shop", "--env", "dev", "--namespace-name", "custom")

	if err := e.run("pull"); !errors.Is(err, domain.ErrNoFlatEntries) {
		t.Errorf("pull error = %v, want ErrNoFlatEntries", err)
	}
	if _, err := os.Stat(filepath.Join(e.dir, ".env")); !os.IsNotExist(err) {
		t.Error("no file should be written on failure")
	}
}

func TestSnapshot_Encrypted(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	ns := e.server.AddNamespace("snapshots")
	e.mustRun("link", "--project", "shop", "--env", "prod", "--namespace-id", ns, "--mode", "snapshot")
	e.writeFile(".env", "DB_PASSWORD=hunter2\n")

	if err := e.run("push"); !errors.Is(err, domain.ErrSecretRequired) {
		t.Fatalf("push without a key error = %v, want ErrSecretRequired", err)
	}

	const key = "0123456789abcdef0123"
	e.mustRun("push", "--encryption-key", key, "--updated-by", "ci")

	stored, ok := e.server.Value(ns, "cfenv:shop:prod:current")
	if !ok || !strings.Contains(stored, `"encrypted":true`) {
		t.Errorf("current pointer = %q", stored)
	}
	for _, k := range e.server.Keys(ns) {
		if v, _ := e.server.Value(ns, k); strings.Contains(v, "hunter2") {
			t.Errorf("plaintext stored under %s", k)
		}
	}

	e.mustRun("-o", "json", "history")
	var hist historyView
	if err := json.Unmarshal(e.stdout.Bytes(), &hist); err != nil {
		t.Fatalf("history json: %v", err)
	}
	if len(hist.Versions) != 1 {
		t.Fatalf("versions = %v", hist.Versions)
	}

	if err := e.run("pull", "--out", "prod.env", "--encryption-key", "wrong-wrong-wrong-key"); !errors.Is(err, domain.ErrDecryptFailed) {
		t.Errorf("pull with a wrong key error = %v, want ErrDecryptFailed", err)
	}

	t.Setenv(envEncryptionKey, key)
	out := e.mustRun("export", "--format", "json", "--version", hist.Versions[0])
	var entries map[string]string
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("export json: %v\n%s", err, out)
	}
	if entries["DB_PASSWORD"] != "hunter2" {
		t.Errorf("exported = %v", entries)
	}
}

func TestSnapshot_ModeOverrideAndPlaintext(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	ns := e.server.AddNamespace("mixed")
	e.mustRun("link", "--project", "shop", "--env", "dev", "--namespace-id", ns)
	e.writeFile(".env", "A=1\n")

	e.mustRun("push", "--mode", "snapshot", "--no-encrypt")
	if _, ok := e.server.Value(ns, "cfenv:shop:dev:current"); !ok {
		t.Fatal("snapshot pointer not written")
	}

	out := e.mustRun("export", "--mode", "snapshot", "--format", "yaml")
	if !strings.Contains(out, `A: "1"`) {
		t.Errorf("yaml export = %q", out)
	}

	// a flat push cleans up snapshot keys
	e.mustRun("push")
	if _, ok := e.server.Value(ns, "cfenv:shop:dev:current"); ok {
		t.Error("flat push should remove the snapshot pointer")
	}
}

func TestExport_ToFile(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	ns := e.server.AddNamespace("x")
	e.mustRun("link", "--project", "p", "--env", "e", "--namespace-id", ns)
	e.writeFile(".env", "A=1\n")
	e.mustRun("push")

	out := e.mustRun("export", "--out", "exported.env")
	if strings.Contains(out, "A=1") {
		t.Errorf("export --out should not print the variables: %q", out)
	}
	data, err := os.ReadFile(filepath.Join(e.dir, "exported.env"))
	if err != nil || !strings.Contains(string(data), "A=1") {
		t.Errorf("exported file = %q, %v", data, err)
	}

	out = e.mustRun("export", "--out", "exported.env", "--overwrite", "--stdout")
	if !strings.Contains(out, "A=1") {
		t.Errorf("export --stdout = %q", out)
	}
}

func TestTargetsAndUse(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun("link", "--project", "shop", "--env", "dev", "--namespace-id", "ns-a")
	e.mustRun("link", "--project", "shop", "--env", "prod", "--namespace-id", "ns-b", "--no-set-default")

	e.mustRun("-o", "json", "targets")
	var rows []linkView
	if err := json.Unmarshal(e.stdout.Bytes(), &rows); err != nil {
		t.Fatalf("targets json: %v", err)
	}
	if len(rows) != 2 || !rows[0].Default || rows[1].Default {
		t.Errorf("targets = %+v", rows)
	}

	e.mustRun("use", "prod")
	rec, err := config.NewLinkStore(e.dir).Resolve("", "")
	if err != nil || rec.Environment != "prod" {
		t.Errorf("default after use = %v, %v", rec, err)
	}

	e.mustRun("use", "shop:dev")
	rec, _ = config.NewLinkStore(e.dir).Resolve("", "")
	if rec.Environment != "dev" {
		t.Errorf("default after use shop:dev = %q", rec.Environment)
	}

	if err := e.run("use", "staging"); !errors.Is(err, domain.ErrLinkNotFound) {
		t.Errorf("use staging error = %v", err)
	}
	if err := e.run("use"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("use without args error = %v", err)
	}
}

func TestTargetSelection(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	dev := e.server.AddNamespace("dev")
	prod := e.server.AddNamespace("prod")
	e.mustRun("link", "--project", "shop", "--env", "dev", "--namespace-id", dev)
	e.mustRun("link", "--project", "shop", "--env", "prod", "--namespace-id", prod, "--no-set-default")
	e.writeFile(".env", "A=1\n")

	e.mustRun("--env", "prod", "push")
	if len(e.server.Keys(prod)) == 0 || len(e.server.Keys(dev)) != 0 {
		t.Errorf("global --env: dev keys %v, prod keys %v", e.server.Keys(dev), e.server.Keys(prod))
	}

	e.mustRun("push", "--env", "dev")
	if len(e.server.Keys(dev)) == 0 {
		t.Error("command-level --env should select dev")
	}
}

func TestNoLink(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	e.writeFile(".env", "A=1\n")

	if err := e.run("push"); !errors.Is(err, domain.ErrLinkNotFound) {
		t.Errorf("push without a link error = %v, want ErrLinkNotFound", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"invalid argument", domain.ErrInvalidArgument.WithDetails("bad format"), 2},
		{"wrapped invalid name", fmt.Errorf("read .env: %w", domain.ErrInvalidEnvName), 2},
		{"missing link", domain.ErrLinkNotFound, 1},
		{"plain error", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWatchOnce(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	ns := e.server.AddNamespace("w")
	e.mustRun("link", "--project", "shop", "--env", "dev", "--namespace-id", ns)
	e.writeFile(".env", "A=1\nB=two\n")
	e.mustRun("push")

	e.mustRun("watch", "--once", "--out", "live.env")
	got, err := envfile.Read(filepath.Join(e.dir, "live.env"))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !got.Equal(domain.Env{"A": "1", "B": "two"}) {
		t.Errorf("watched file = %v", got)
	}
}

func TestWatch_RejectsSnapshotLink(t *testing.T) {
	e := newTestEnv(t)
	e.login()
	e.mustRun("link", "--project", "shop", "--env", "dev", "--namespace-id", "ns-x", "--mode", "snapshot")

	if err := e.run("watch", "--once"); !errors.Is(err, domain.ErrInvalidStorageMode) {
		t.Errorf("watch error = %v, want ErrInvalidStorageMode", err)
	}
}

func TestLocalBackend(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun("login", "--local", "--profile", "offline")
	e.mustRun("setup", "--profile", "offline", "--project", "shop", "--env", "dev")

	e.writeFile(".env", "LOCAL=yes\n")
	e.mustRun("push")
	e.mustRun("pull", "--out", "back.env")

	got, err := envfile.Read(filepath.Join(e.dir, "back.env"))
	if err != nil || got["LOCAL"] != "yes" {
		t.Errorf("pulled = %v, %v", got, err)
	}
	if e.server.Calls() != 0 {
		t.Errorf("local profile made %d remote calls", e.server.Calls())
	}
}

func TestVersion(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun("-o", "json", "version")
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version json: %v\n%s", err, out)
	}
	if info["version"] == "" || info["goVersion"] == "" {
		t.Errorf("version = %v", info)
	}
}

func TestUpdatedBy(t *testing.T) {
	if got := updatedBy("  ci-bot "); got != "ci-bot" {
		t.Errorf("updatedBy() = %q", got)
	}
	if got := updatedBy(""); !strings.Contains(got, "@") {
		t.Errorf("updatedBy(\"\") = %q, want user@host", got)
	}
}
