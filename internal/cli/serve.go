package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/clawinfra/clawroute/internal/api"
	"github.com/clawinfra/clawroute/internal/config"
	"github.com/clawinfra/clawroute/internal/plugin"
)

func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API with metrics and the live decision feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address, defaults to server.addr from the config",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, logger, err := a.openPlugin(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Destroy(); err != nil {
					logger.Error("shutdown failed", "error", err)
				}
			}()

			cfg := p.Config()
			addr := cmd.String("addr")
			if addr == "" {
				addr = cfg.Server.Addr
			}

			srv := api.NewServer(p, []byte(cfg.Server.JWTSecret), logger)
			defer srv.Close()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go waitForSignals(ctx, cancel, p, logger)

			fmt.Fprintf(a.out, "clawroute %s listening on %s\n", Version, addr)
			return srv.Start(ctx, addr)
		},
	}
}

// waitForSignals cancels on a shutdown signal and handles platform
// signals such as SIGHUP until ctx ends.
func waitForSignals(ctx context.Context, cancel context.CancelFunc, p *plugin.Plugin, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if handlePlatformSignal(sig, p, logger) {
				continue
			}
			logger.Info("shutdown signal received", "signal", sig)
			cancel()
			return
		}
	}
}

func (a *App) tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue an API bearer token signed with server.jwtSecret",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "subject",
				Usage: "token subject",
				Value: "clawroute-client",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "token lifetime",
				Value: 24 * time.Hour,
			},
			&cli.StringFlag{
				Name:  "secret",
				Usage: "signing secret, defaults to server.jwtSecret from the config",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			secret := cmd.String("secret")
			if secret == "" {
				cfg, err := config.Load(cmd.String("config"))
				if err != nil {
					return err
				}
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: pass --secret or set server.jwtSecret")
			}
			if cmd.Duration("ttl") <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			token, err := api.GenerateToken(cmd.String("subject"), []byte(secret), cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
}
