package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qrlew/qrlew-go/internal/privacy"
	"github.com/qrlew/qrlew-go/pkg/qrlew"
)

func newSchemaCmd(g *globals) *cobra.Command {
	var f datasetFlags
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List the tables of a dataset with their types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, _, _, err := f.load(cmd.Context(), g)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, nr := range ds.Relations() {
				_, max := nr.Relation.Size()
				size := "?"
				if max >= 0 {
					size = fmt.Sprint(max)
				}
				fmt.Fprintf(out, "%s\t%s\trows<=%s\n", strings.Join(nr.Path, "."), nr.Relation.Schema(), size)
			}
			return nil
		},
	}
	f.register(cmd, false)
	return cmd
}

func newRelationCmd(g *globals) *cobra.Command {
	var (
		f      datasetFlags
		dot    bool
		asType bool
	)
	cmd := &cobra.Command{
		Use:   "relation QUERY",
		Short: "Plan a query and print it back as SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, _, d, err := f.load(cmd.Context(), g)
			if err != nil {
				return err
			}
			r, err := ds.Relation(args[0], d)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case dot:
				fmt.Fprint(out, r.Dot())
			case asType:
				typ, err := r.Type()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, typ)
			default:
				fmt.Fprintf(out, "-- %s\n%s\n", r.Schema(), r.ToQuery(d))
			}
			return nil
		},
	}
	f.register(cmd, false)
	cmd.Flags().BoolVar(&dot, "dot", false, "print the plan as a GraphViz graph")
	cmd.Flags().BoolVar(&asType, "type", false, "print the output type as protobuf JSON")
	cmd.MarkFlagsMutuallyExclusive("dot", "type")
	return cmd
}

// rewriteFlags are the tuning flags shared by rewrite and dp.
type rewriteFlags struct {
	maxMultiplicity      float64
	maxMultiplicityShare float64
	synthetic            []string
}

func (r *rewriteFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Float64Var(&r.maxMultiplicity, "max-multiplicity", 0, "maximum rows per privacy unit (default from configuration)")
	fs.Float64Var(&r.maxMultiplicityShare, "max-multiplicity-share", 0, "maximum rows per privacy unit as a share of the table size")
	fs.StringSliceVar(&r.synthetic, "synthetic", nil, "ORIGINAL=SYNTHETIC table path pair, dotted")
}

func (r *rewriteFlags) options(g *globals, strategy string) (*qrlew.RewriteOptions, error) {
	params, err := g.cfg.PrivacyParameters()
	if err != nil {
		return nil, err
	}
	tau := g.cfg.Rewrite.TauThresholdingShare
	opts := &qrlew.RewriteOptions{
		MaxMultiplicity:      &params.MaxMultiplicity,
		MaxMultiplicityShare: &params.MaxMultiplicityShare,
		Strategy:             params.Strategy,
		Mechanism:            g.cfg.Rewrite.Mechanism,
		TauThresholdingShare: &tau,
	}
	if r.maxMultiplicity > 0 {
		opts.MaxMultiplicity = &r.maxMultiplicity
	}
	if r.maxMultiplicityShare > 0 {
		opts.MaxMultiplicityShare = &r.maxMultiplicityShare
	}
	if strategy != "" {
		if opts.Strategy, err = privacy.ParseStrategy(strategy); err != nil {
			return nil, err
		}
	}
	for _, pair := range r.synthetic {
		original, synthetic, ok := strings.Cut(pair, "=")
		if !ok || original == "" || synthetic == "" {
			return nil, fmt.Errorf("invalid --synthetic %q, want ORIGINAL=SYNTHETIC", pair)
		}
		opts.SyntheticData = append(opts.SyntheticData, qrlew.SyntheticPair{
			Original:  strings.Split(original, "."),
			Synthetic: strings.Split(synthetic, "."),
		})
	}
	return opts, nil
}

func newRewriteCmd(g *globals) *cobra.Command {
	var (
		f        datasetFlags
		r        rewriteFlags
		strategy string
	)
	cmd := &cobra.Command{
		Use:   "rewrite QUERY",
		Short: "Rewrite a query as privacy unit preserving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, pu, d, err := f.load(cmd.Context(), g)
			if err != nil {
				return err
			}
			opts, err := r.options(g, strategy)
			if err != nil {
				return err
			}
			rel, err := ds.Relation(args[0], d)
			if err != nil {
				return err
			}
			// The budget is not spent by this rewrite.
			res, err := rel.RewriteAsPrivacyUnitPreserving(ds, pu, map[string]float64{"epsilon": 1, "delta": 0}, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Relation().ToQuery(d))
			return nil
		},
	}
	f.register(cmd, true)
	r.register(cmd)
	cmd.Flags().StringVar(&strategy, "strategy", "", "hard or soft (default from configuration)")
	return cmd
}

// DpOutput is what dp prints.
type DpOutput struct {
	Query   string                 `json:"query"`
	DpEvent map[string]interface{} `json:"dp_event"`
	Epsilon float64                `json:"epsilon"`
	Delta   float64                `json:"delta"`
}

func newDpCmd(g *globals) *cobra.Command {
	var (
		f         datasetFlags
		r         rewriteFlags
		epsilon   float64
		delta     float64
		mechanism string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "dp QUERY",
		Short: "Rewrite a query as differentially private",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, pu, d, err := f.load(cmd.Context(), g)
			if err != nil {
				return err
			}
			opts, err := r.options(g, "")
			if err != nil {
				return err
			}
			if mechanism != "" {
				opts.Mechanism = mechanism
			}
			rel, err := ds.Relation(args[0], d)
			if err != nil {
				return err
			}
			res, err := rel.RewriteWithDifferentialPrivacy(ds, pu, map[string]float64{"epsilon": epsilon, "delta": delta}, opts)
			if err != nil {
				return err
			}
			spentEps, spentDelta := res.Spent()
			out := DpOutput{
				Query:   res.Relation().ToQuery(d),
				DpEvent: res.DpEvent(),
				Epsilon: spentEps,
				Delta:   spentDelta,
			}
			if asJSON {
				return printJSON(cmd, out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "-- spends epsilon=%g delta=%g\n%s\n", out.Epsilon, out.Delta, out.Query)
			return nil
		},
	}
	f.register(cmd, true)
	r.register(cmd)
	cmd.Flags().Float64Var(&epsilon, "epsilon", 1, "epsilon budget")
	cmd.Flags().Float64Var(&delta, "delta", 1e-5, "delta budget")
	cmd.Flags().StringVar(&mechanism, "mechanism", "", "laplace or gaussian (default from configuration)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the query, event and spent budget as JSON")
	return cmd
}

func newTablesPrefixCmd(g *globals) *cobra.Command {
	var dialectName string
	cmd := &cobra.Command{
		Use:   "tables-prefix QUERY",
		Short: "Print the leading qualifiers of the tables a query reads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := g.cfg.DefaultDialect()
			if dialectName != "" {
				var err error
				if d, err = qrlew.ParseDialect(dialectName); err != nil {
					return err
				}
			}
			prefixes, err := qrlew.TablesPrefix(args[0], d)
			if err != nil {
				return err
			}
			for _, p := range prefixes {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dialectName, "dialect", "", "SQL dialect (default from configuration)")
	return cmd
}
