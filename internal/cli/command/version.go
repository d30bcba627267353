package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/cfenv-go/internal/cli/output"
	"github.com/yndnr/cfenv-go/internal/infra/buildinfo"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show build information",
		Action: versionAction,
	}
}

type versionView buildinfo.Info

// Table implements output.Tabular.
func (v versionView) Table() *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("version", v.Version)
	t.AddRow("commit", v.Commit)
	t.AddRow("built", v.BuildTime)
	t.AddRow("go", v.GoVersion)
	t.AddRow("platform", v.Platform)
	return t
}

func versionAction(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}
	return rt.Print(versionView(buildinfo.Get()))
}
