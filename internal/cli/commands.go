package cli

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/clawinfra/clawroute/internal/config"
	"github.com/clawinfra/clawroute/internal/plugin"
	"github.com/clawinfra/clawroute/internal/router"
)

func (a *App) routeCommand() *cli.Command {
	return &cli.Command{
		Name:      "route",
		Usage:     "classify a message and pick a model",
		ArgsUsage: "<message> | -",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "strategy",
				Aliases: []string{"s"},
				Usage:   "cost|free|quality|paid, overrides the config strategy",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "show the score breakdown",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the decision as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			msg, err := a.messageArg(cmd)
			if err != nil {
				return err
			}
			if s := cmd.String("strategy"); s != "" {
				if err := checkStrategy(s); err != nil {
					return err
				}
			}

			p, _, err := a.openPlugin(ctx, cmd)
			if err != nil {
				return err
			}
			defer p.Destroy()

			dec, err := p.OnMessage(ctx, plugin.Message{
				Channel:  "cli",
				Text:     msg,
				Strategy: cmd.String("strategy"),
			})
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return a.printJSON(dec)
			}
			fmt.Fprint(a.out, router.FormatResult(dec.RoutingResult, cmd.Bool("verbose")))
			if dec.Substituted {
				fmt.Fprintf(a.out, "Note:       %s is degraded, serving the fallback\n", dec.Primary)
			}
			return nil
		},
	}
}

func checkStrategy(s string) error {
	if !config.ValidStrategy(s) {
		return fmt.Errorf("%w: unknown strategy %q", router.ErrInvalidConfig, s)
	}
	return nil
}

func (a *App) scoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "score",
		Usage:     "rank candidate models for a message",
		ArgsUsage: "<message> | -",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "models",
				Aliases:  []string{"m"},
				Usage:    "candidate model ids (repeat or comma-separate)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the ranking as JSON",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "show the per-factor breakdown of each model",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			msg, err := a.messageArg(cmd)
			if err != nil {
				return err
			}
			r, _, err := a.loadRouter(cmd)
			if err != nil {
				return err
			}

			ranked := r.RankModels(msg, cmd.StringSlice("models"))
			if cmd.Bool("json") {
				return a.printJSON(ranked)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tMODEL\tSCORE\tFREE")
			for i, m := range ranked {
				fmt.Fprintf(tw, "%d\t%s\t%.4f\t%t\n", i+1, m.Model, m.Score, m.Free)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if cmd.Bool("verbose") {
				for _, m := range ranked {
					b := r.Breakdown(msg, m.Model)
					names := make([]string, 0, len(b))
					for name := range b {
						names = append(names, name)
					}
					sort.Strings(names)
					fmt.Fprintf(a.out, "\n%s\n", m.Model)
					for _, name := range names {
						fmt.Fprintf(a.out, "  %-16s %.3f\n", name, b[name])
					}
				}
			}
			return nil
		},
	}
}

func (a *App) featuresCommand() *cli.Command {
	return &cli.Command{
		Name:      "features",
		Usage:     "show extracted text features and dimension scores",
		ArgsUsage: "<message> | -",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			msg, err := a.messageArg(cmd)
			if err != nil {
				return err
			}
			r, _, err := a.loadRouter(cmd)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{
				"features":   router.ExtractFeatures(msg),
				"dimensions": r.Classify(msg),
			})
		},
	}
}

func (a *App) tiersCommand() *cli.Command {
	return &cli.Command{
		Name:  "tiers",
		Usage: "list the tier table and cascade thresholds",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			r, _, err := a.loadRouter(cmd)
			if err != nil {
				return err
			}
			cfg := r.Config()

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tFREE\tPAID\t$/M TOKENS\tDESCRIPTION")
			for _, t := range router.AllTiers() {
				m, ok := cfg.Tiers[t]
				if !ok {
					continue
				}
				free := m.Free
				if free == "" {
					free = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", t, free, m.Paid, m.CostPerM, m.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			th := cfg.Thresholds
			fmt.Fprintf(a.out, "\nThresholds: REASONING>=%.2f CODING>=%.2f CREATIVE>=%.2f MULTISTEP>=%.2f SIMPLE<%.2f COMPLEX>=%.2f PREMIUM>=%.2f\n",
				th.ReasoningTrigger, th.CodingTrigger, th.CreativeTrigger, th.MultistepTrigger,
				th.SimpleMax, th.ComplexMin, th.PremiumMin)
			return nil
		},
	}
}

func (a *App) validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check a config file and report pattern warnings",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			r, cfg, err := a.loadRouter(cmd)
			if err != nil {
				return err
			}
			rc := r.Config()
			for _, w := range r.Warnings() {
				fmt.Fprintf(a.out, "warning: %s\n", w)
			}
			fmt.Fprintf(a.out, "config OK: strategy %s, %d dimensions, %d tiers, %d warnings\n",
				cfg.Strategy, len(rc.Dimensions), len(rc.Tiers), len(r.Warnings()))
			return nil
		},
	}
}
