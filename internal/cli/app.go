// Package cli implements the clawroute command line.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/clawinfra/clawroute/internal/config"
	"github.com/clawinfra/clawroute/internal/plugin"
	"github.com/clawinfra/clawroute/internal/router"
)

// Version is set at build time.
var Version = "dev"

// App holds the I/O the commands write to.
type App struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	level  *slog.LevelVar
}

// New builds the root command.
func New(in io.Reader, out, errOut io.Writer) *cli.Command {
	a := &App{in: in, out: out, errOut: errOut, level: new(slog.LevelVar)}

	return &cli.Command{
		Name:      "clawroute",
		Usage:     "route LLM requests to the cheapest model that can handle them",
		Version:   Version,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (.json, .yaml, .toml); built-in defaults when empty",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug|info|warn|error, overrides logLevel from the config",
			},
		},
		Commands: []*cli.Command{
			a.routeCommand(),
			a.scoreCommand(),
			a.featuresCommand(),
			a.tiersCommand(),
			a.validateCommand(),
			a.batchCommand(),
			a.statsCommand(),
			a.serveCommand(),
			a.tokenCommand(),
		},
	}
}

// logger returns a stderr text logger. An explicit --log-level wins over
// the config.
func (a *App) logger(cmd *cli.Command, cfg *config.Config) (*slog.Logger, error) {
	if lvl := cmd.String("log-level"); lvl != "" {
		l, err := config.ParseLevel(lvl)
		if err != nil {
			return nil, err
		}
		a.level.Set(l)
	} else if cfg != nil {
		a.level.Set(cfg.SlogLevel())
	}
	return slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: a.level})), nil
}

// loadRouter builds a router from the config without starting any sinks.
func (a *App) loadRouter(cmd *cli.Command) (*router.Router, *config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := a.logger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	rc, err := cfg.RouterConfig()
	if err != nil {
		return nil, nil, err
	}
	r, err := router.New(rc, logger)
	if err != nil {
		return nil, nil, err
	}
	return r, cfg, nil
}

// openPlugin initializes the full plugin: audit sinks, health and reload.
// Callers must Destroy it.
func (a *App) openPlugin(ctx context.Context, cmd *cli.Command) (*plugin.Plugin, *slog.Logger, error) {
	logger, err := a.logger(cmd, nil)
	if err != nil {
		return nil, nil, err
	}
	var opts []plugin.Option
	if cmd.String("log-level") == "" {
		opts = append(opts, plugin.WithLevel(a.level))
	}
	p := plugin.New(cmd.String("config"), logger, opts...)
	if err := p.Init(ctx); err != nil {
		return nil, nil, err
	}
	return p, logger, nil
}

// messageArg joins the positional arguments; no arguments or a single "-"
// reads the message from stdin.
func (a *App) messageArg(cmd *cli.Command) (string, error) {
	args := cmd.Args().Slice()
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(a.in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	msg := strings.TrimRight(string(data), "\r\n")
	if msg == "" {
		return "", fmt.Errorf("message required: pass it as arguments or on stdin")
	}
	return msg, nil
}

// readLines returns the non-empty lines of r.
func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var lines []string
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
