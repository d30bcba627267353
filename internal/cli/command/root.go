package command

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/infra/buildinfo"
)

const runtimeKey = "runtime"

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:                 "cfenv",
		Usage:                "Sync .env files through Cloudflare Workers KV",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		HideVersion:          true,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			KeygenCommand(),
			LoginCommand(),
			ProfilesCommand(),
			SetupCommand(),
			LinkCommand(),
			TargetsCommand(),
			UseCommand(),
			PushCommand(),
			PullCommand(),
			ExportCommand(),
			HistoryCommand(),
			WatchCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			c.App.Metadata[runtimeKey] = rt
			return nil
		},
		After: func(c *cli.Context) error {
			if rt, ok := c.App.Metadata[runtimeKey].(*Runtime); ok {
				return rt.Close()
			}
			return nil
		},
	}
	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Settings file (default $XDG_CONFIG_HOME/cfenv/config.yaml)",
			EnvVars: []string{"CFENV_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"C"},
			Usage:   "Project directory holding .cfenv/config.json",
			Value:   ".",
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "Credential profile",
		},
		&cli.StringFlag{
			Name:  "project",
			Usage: "Project of the target link",
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "Environment of the target link",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: text, json, yaml",
			Value:   "text",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log requests and retries",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Log everything",
		},
	}
}

// targetFlags repeat the link selectors so they can follow the
// subcommand name.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "Credential profile override"},
		&cli.StringFlag{Name: "project", Usage: "Project override"},
		&cli.StringFlag{Name: "env", Usage: "Environment override"},
		&cli.StringFlag{Name: "mode", Usage: "Storage mode override: flat or snapshot"},
	}
}

// stringFlag returns the innermost explicitly set value of name, falling
// back to the innermost default.
func stringFlag(c *cli.Context, name string) string {
	for _, cc := range c.Lineage() {
		if cc.IsSet(name) {
			return cc.String(name)
		}
	}
	return c.String(name)
}

// ExitCode maps a command error to the process exit status: 0 on
// success, 2 when an argument was rejected and 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case strings.HasPrefix(domain.GetErrorCode(err), "CFE-ARG-"):
		return 2
	default:
		return 1
	}
}

// getRuntime retrieves the runtime created by the Before hook.
func getRuntime(c *cli.Context) (*Runtime, error) {
	if rt, ok := c.App.Metadata[runtimeKey].(*Runtime); ok {
		return rt, nil
	}
	return nil, fmt.Errorf("cli runtime not initialized")
}
