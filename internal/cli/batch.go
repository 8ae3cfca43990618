package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/clawroute/internal/plugin"
)

// batchResult is one output line of the batch command.
type batchResult struct {
	Line        int     `json:"line"`
	Tier        string  `json:"tier"`
	Model       string  `json:"model"`
	Fallback    string  `json:"fallback,omitempty"`
	Confidence  float64 `json:"confidence"`
	Rule        string  `json:"rule"`
	Substituted bool    `json:"substituted,omitempty"`
	RequestID   string  `json:"requestId"`
}

func (a *App) batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "route one message per line and print JSON lines in input order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "input file, - for stdin",
				Value:   "-",
			},
			&cli.IntFlag{
				Name:    "parallel",
				Aliases: []string{"p"},
				Usage:   "maximum concurrent routing calls",
				Value:   4,
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "cost|free|quality|paid, overrides the config strategy",
			},
			&cli.BoolFlag{
				Name:  "savings",
				Usage: "print the savings report to stderr at the end",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			in := a.in
			if f := cmd.String("file"); f != "-" {
				file, err := os.Open(f)
				if err != nil {
					return fmt.Errorf("open batch file: %w", err)
				}
				defer file.Close()
				in = file
			}
			lines, err := readLines(in)
			if err != nil {
				return fmt.Errorf("read batch input: %w", err)
			}
			parallel := int(cmd.Int("parallel"))
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1")
			}
			strategy := cmd.String("strategy")
			if strategy != "" {
				if err := checkStrategy(strategy); err != nil {
					return err
				}
			}

			p, _, err := a.openPlugin(ctx, cmd)
			if err != nil {
				return err
			}
			defer p.Destroy()

			results, err := routeBatch(ctx, p, lines, strategy, parallel)
			if err != nil {
				return err
			}
			if err := writeBatch(a.out, results); err != nil {
				return err
			}
			if cmd.Bool("savings") {
				fmt.Fprintln(a.errOut, p.Router().SavingsReport())
			}
			return nil
		},
	}
}

// routeBatch routes lines with at most parallel calls in flight. Results
// keep the input order.
func routeBatch(ctx context.Context, p *plugin.Plugin, lines []string, strategy string, parallel int) ([]batchResult, error) {
	results := make([]batchResult, len(lines))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, line := range lines {
		g.Go(func() error {
			dec, err := p.OnMessage(ctx, plugin.Message{
				Channel:  "batch",
				Text:     line,
				Strategy: strategy,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			results[i] = batchResult{
				Line:        i + 1,
				Tier:        dec.Tier.String(),
				Model:       dec.Model,
				Fallback:    dec.Fallback,
				Confidence:  dec.Confidence,
				Rule:        dec.Rule,
				Substituted: dec.Substituted,
				RequestID:   dec.RequestID,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeBatch(w io.Writer, results []batchResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
