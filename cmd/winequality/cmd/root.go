// Package cmd implements the winequality command line.
package cmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/winequality/config"
	"github.com/YuminosukeSato/winequality/pipeline"
	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

const rootDescription = "Train an ElasticNet on the red wine quality dataset and record the run."

// NewRootCommand returns the winequality command. Each call gets its own
// viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	var configFile string

	root := &cobra.Command{
		Use:   "winequality [alpha] [l1_ratio]",
		Short: rootDescription,
		Long: rootDescription + `

alpha and l1_ratio default to 0.5. Every flag can also be set through a
WINEQ_* environment variable or a YAML config file.`,
		Example: `  winequality
  winequality 0.1 0.9 --plot
  winequality 0.5 --tracking-uri /data/mlruns --legacy-mae`,
		Args:              cobra.RangeArgs(0, 2),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if err := applyPositional(&cfg, args); err != nil {
				return err
			}
			if err := log.SetupLogger(cfg.LogLevel); err != nil {
				return err
			}

			p, err := pipeline.New(cfg, pipeline.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			_, err = p.Run(cmd.Context())
			return err
		},
	}

	d := config.Default()
	flags := root.Flags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.String("data-url", d.Data.URL, "dataset URL or local path (http, https, file or plain path)")
	flags.String("cache-path", d.Data.CachePath, "local copy of the downloaded dataset, used when the download fails")
	flags.String("tracking-uri", d.Tracking.URI, "tracking store directory or file:// URI")
	flags.String("artifact-root", d.Tracking.ArtifactRoot, "artifact root for new experiments (file:// or s3://bucket/prefix)")
	flags.String("experiment", d.Tracking.Experiment, "experiment name")
	flags.String("model-name", d.Tracking.ModelName, "registered model name")
	flags.String("run-name", d.Tracking.RunName, "run name, generated when empty")
	flags.Float64("test-size", d.Data.TestSize, "fraction of rows held out for evaluation")
	flags.Uint64("split-seed", d.Data.SplitSeed, "seed of the train/test split")
	flags.Uint64("random-state", d.Model.RandomState, "seed of the coordinate selection")
	flags.Int("max-iter", d.Model.MaxIter, "maximum coordinate descent sweeps")
	flags.Float64("tol", d.Model.Tol, "duality gap tolerance")
	flags.String("selection", d.Model.Selection, "coordinate order: cyclic or random")
	flags.String("log-level", d.LogLevel, "debug, info, warn or error")
	flags.Bool("legacy-mae", d.Metrics.LegacyMAE, "report mean squared error under the name mae")
	flags.Bool("plot", d.Plot, "log a predicted-vs-actual plot artifact")

	for key, flag := range map[string]string{
		config.KeyDataURL:      "data-url",
		config.KeyCachePath:    "cache-path",
		config.KeyTrackingURI:  "tracking-uri",
		config.KeyArtifactRoot: "artifact-root",
		config.KeyExperiment:   "experiment",
		config.KeyModelName:    "model-name",
		config.KeyRunName:      "run-name",
		config.KeyTestSize:     "test-size",
		config.KeySplitSeed:    "split-seed",
		config.KeyRandomState:  "random-state",
		config.KeyMaxIter:      "max-iter",
		config.KeyTol:          "tol",
		config.KeySelection:    "selection",
		config.KeyLogLevel:     "log-level",
		config.KeyLegacyMAE:    "legacy-mae",
		config.KeyPlot:         "plot",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	return root
}

// applyPositional overrides alpha and l1_ratio with the positional
// arguments. Range checks are left to the trainer.
func applyPositional(cfg *config.Config, args []string) error {
	targets := []struct {
		name string
		dst  *float64
	}{
		{config.KeyAlpha, &cfg.Alpha},
		{config.KeyL1Ratio, &cfg.L1Ratio},
	}
	for i, arg := range args {
		f, err := parseFloat(arg)
		if err != nil {
			return errors.NewValidationError(targets[i].name, "not a number", arg)
		}
		*targets[i].dst = f
	}
	return nil
}

// parseFloat accepts surrounding whitespace and the inf/nan spellings.
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Execute runs root with args. Negative numbers among the positional
// arguments (winequality -1, winequality 0.5 -0.2) would otherwise be read
// as shorthand flags, so every positional is moved behind "--" first.
func Execute(ctx context.Context, root *cobra.Command, args []string) error {
	root.SetArgs(positionalAfterDash(root, args))
	return root.ExecuteContext(ctx)
}

// positionalAfterDash returns args with the flags first and the positional
// arguments after a "--" terminator, keeping their order. args is returned
// unchanged when no positional starts with "-".
func positionalAfterDash(root *cobra.Command, args []string) []string {
	var flagArgs, positional []string
	negative := false

loop:
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			positional = append(positional, args[i+1:]...)
			break loop
		case strings.HasPrefix(a, "-") && isNumber(a):
			positional = append(positional, a)
			negative = true
		case strings.HasPrefix(a, "--") && !strings.Contains(a, "="):
			flagArgs = append(flagArgs, a)
			// "--tol -1" の値は位置引数ではない
			if f := root.Flags().Lookup(a[2:]); f != nil && f.NoOptDefVal == "" && i+1 < len(args) {
				i++
				flagArgs = append(flagArgs, args[i])
			}
		case strings.HasPrefix(a, "-") && len(a) > 1:
			flagArgs = append(flagArgs, a)
		default:
			positional = append(positional, a)
		}
	}

	if !negative {
		return append([]string{}, args...)
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, flagArgs...)
	out = append(out, "--")
	return append(out, positional...)
}

func isNumber(s string) bool {
	_, err := parseFloat(s)
	return err == nil
}
