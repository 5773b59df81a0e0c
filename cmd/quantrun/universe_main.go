package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantrun/quantrun/internal/domain"
	"github.com/quantrun/quantrun/internal/provider"
	"github.com/quantrun/quantrun/internal/universe"
)

func newUniverseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "universe",
		Short: "Dry-run the fundamental universe selector and print the trace",
		RunE:  runUniverse,
	}
	f := cmd.Flags()
	f.String("market", "", "Restrict candidates to one market (CN, US)")
	f.Int("limit", 0, "Cap the selected list")
	f.Float64("filter-market-cap-min", 0, "Minimum market cap")
	f.Float64("filter-pe-max", 0, "Maximum PE")
	f.Float64("filter-eps-growth-min", 0, "Minimum EPS growth")
	f.Float64("filter-roe-min", 0, "Minimum ROE")
	f.Float64("filter-revenue-growth-min", 0, "Minimum revenue growth")
	f.Float64("filter-beta-min", 0, "Minimum beta")
	f.Float64("filter-beta-max", 0, "Maximum beta")
	f.String("filter-mode", "permissive", "Filter mode: permissive|strict")
	return cmd
}

func runUniverse(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	opts := universeOptions(cmd)
	opts.Market, _ = cmd.Flags().GetString("market")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	if opts.Market != "" {
		opts.Status = domain.StatusActive
	}

	sel := universe.NewSelector(a.catalog, provider.NewStoreFundamentalProvider(a.companies), a.log)
	res, err := sel.Select(ctx, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, eval := range res.Trace {
		verdict := "PASS"
		if !eval.Passed {
			verdict = "fail"
		}
		var checks []string
		for _, c := range eval.Checks {
			val := "absent"
			if c.Value != nil {
				val = fmt.Sprintf("%.4g", *c.Value)
			}
			mark := "ok"
			if !c.Passed {
				mark = "FAIL"
			}
			checks = append(checks, fmt.Sprintf("%s=%s vs %.4g %s", c.Name, val, c.Threshold, mark))
		}
		detail := strings.Join(checks, ", ")
		if eval.Missing {
			detail = "no fundamentals row"
		}
		fmt.Fprintf(out, "%-12s %s  %s\n", eval.Symbol, verdict, detail)
	}
	fmt.Fprintf(out, "\nselected (%d): %s\n", len(res.Symbols), strings.Join(res.Symbols, ", "))
	return nil
}
