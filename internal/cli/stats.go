package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/clawinfra/clawroute/internal/config"
	"github.com/clawinfra/clawroute/internal/decisionlog"
	"github.com/clawinfra/clawroute/internal/router"
)

func (a *App) statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "summarize audited decisions from the SQLite store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "decision database, defaults to decisions.sqlite from the config",
			},
			&cli.DurationFlag{
				Name:  "since",
				Usage: "only count decisions newer than this (e.g. 24h); 0 counts all",
			},
			&cli.IntFlag{
				Name:  "recent",
				Usage: "also list the most recent decisions",
				Value: 0,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("db")
			if path == "" {
				cfg, err := config.Load(cmd.String("config"))
				if err != nil {
					return err
				}
				path = cfg.Decisions.SQLite
			}
			if path == "" {
				return fmt.Errorf("no decision database: pass --db or set decisions.sqlite")
			}

			store, err := decisionlog.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer store.Close()

			var since time.Time
			if d := cmd.Duration("since"); d > 0 {
				since = time.Now().Add(-d)
			}
			counts, err := store.TierCounts(ctx, since)
			if err != nil {
				return err
			}
			if err := a.printTierCounts(counts); err != nil {
				return err
			}

			if n := int(cmd.Int("recent")); n > 0 {
				recent, err := store.Recent(ctx, n)
				if err != nil {
					return err
				}
				a.printRecent(recent)
			}
			return nil
		},
	}
}

func (a *App) printTierCounts(counts map[router.Tier]int64) error {
	var total int64
	for _, n := range counts {
		total += n
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tDECISIONS\tSHARE")
	for _, t := range router.AllTiers() {
		n := counts[t]
		share := 0.0
		if total > 0 {
			share = float64(n) / float64(total) * 100
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\n", t, n, share)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t\n", total)
	return tw.Flush()
}

func (a *App) printRecent(records []decisionlog.Record) {
	fmt.Fprintln(a.out)
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTIER\tMODEL\tCONFIDENCE\tCHANNEL")
	for _, r := range records {
		model := r.Model
		if r.Substituted {
			model += " (fallback)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Tier, model, r.Confidence*100, r.Channel)
	}
	tw.Flush()
}
