// Command ladder validates exit strategy files and previews the sell orders
// they would produce, without a running service.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/satlend/exit-engine/internal/ladder"
	"github.com/satlend/exit-engine/internal/strategy"
	"github.com/satlend/exit-engine/internal/valuation"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ladder",
		Usage: "validate exit strategies and preview their sell ladders",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "check a strategy file and list field errors and warnings",
				ArgsUsage: "<strategy.json>",
				Action:    validateAction,
			},
			{
				Name:      "preview",
				Usage:     "print the sell orders a strategy generates for a position",
				ArgsUsage: "<strategy.json>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sellable", Usage: "sellable BTC", Required: true},
					&cli.StringFlag{Name: "repayment", Usage: "loan repayment in CZK", Value: "0"},
					&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
				},
				Action: previewAction,
			},
			{
				Name:      "default",
				Usage:     "print the default parameters of a strategy kind",
				ArgsUsage: "<KIND>",
				Action:    defaultAction,
			},
		},
	}
}

func validateAction(c *cli.Context) error {
	p, err := readStrategy(c)
	if err != nil {
		return err
	}
	res, err := strategy.Validate(p)
	if err != nil {
		return err
	}

	w := c.App.Writer
	for _, msg := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}
	if res.Valid {
		fmt.Fprintf(w, "%s: valid\n", p.Kind())
		return nil
	}
	return cli.Exit(res.Err(p.Kind()).Error(), 2)
}

func previewAction(c *cli.Context) error {
	sellable, err := decimalFlag(c, "sellable")
	if err != nil {
		return err
	}
	repayment, err := decimalFlag(c, "repayment")
	if err != nil {
		return err
	}
	p, err := readStrategy(c)
	if err != nil {
		return err
	}

	proposals, err := strategy.Generate(p, ladder.Position{SellableBTC: sellable, RepaymentCZK: repayment})
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if c.Bool("json") {
		if proposals == nil {
			proposals = []ladder.Proposal{}
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(proposals)
	}
	printLadder(c.App.Writer, p.Kind(), proposals)
	return nil
}

func defaultAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected one strategy kind", 2)
	}
	p, err := strategy.Default(strategy.Kind(c.Args().First()))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	data, err := strategy.Marshal(p)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}

func readStrategy(c *cli.Context) (strategy.Params, error) {
	if c.NArg() != 1 {
		return nil, cli.Exit("expected one strategy file", 2)
	}
	path := c.Args().First()

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(c.App.Reader)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	p, err := strategy.Unmarshal(data)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	return p, nil
}

func decimalFlag(c *cli.Context, name string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.String(name))
	if err != nil || v.IsNegative() {
		return decimal.Zero, cli.Exit(fmt.Sprintf("--%s must be a non-negative number", name), 2)
	}
	return v, nil
}

func printLadder(w io.Writer, kind strategy.Kind, proposals []ladder.Proposal) {
	if len(proposals) == 0 {
		fmt.Fprintf(w, "%s: no sell orders\n", kind)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tPRICE CZK\tBTC\tTOTAL CZK\t")
	for i, pr := range proposals {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", i+1,
			valuation.RoundCZK(pr.Price).String(),
			valuation.RoundBTC(pr.BTCAmount).StringFixed(valuation.BTCPlaces),
			valuation.RoundCZK(pr.TotalCZK()).String())
	}
	fmt.Fprintf(tw, "\t\t%s\t%s\t\n",
		valuation.RoundBTC(ladder.TotalBTC(proposals)).StringFixed(valuation.BTCPlaces),
		valuation.RoundCZK(ladder.TotalCZK(proposals)).String())
	tw.Flush()
}
