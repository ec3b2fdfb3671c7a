// Package pipeline runs the wine-quality training job: load the dataset,
// split it, fit an ElasticNet, evaluate it on the held-out rows, print the
// summary and record everything in a tracking run.
package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/winequality/config"
	"github.com/YuminosukeSato/winequality/dataset"
	"github.com/YuminosukeSato/winequality/linear"
	"github.com/YuminosukeSato/winequality/metrics"
	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
	"github.com/YuminosukeSato/winequality/tracking"
)

// DataSource supplies the dataset.
type DataSource interface {
	Load(ctx context.Context) (*dataset.Table, error)
}

// Pipeline is one configured training job.
type Pipeline struct {
	cfg    config.Config
	out    io.Writer
	source DataSource
	store  *tracking.FileStore
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOutput sets where the summary is printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) {
		p.out = w
	}
}

// WithDataSource replaces the loader built from the configuration.
func WithDataSource(src DataSource) Option {
	return func(p *Pipeline) {
		p.source = src
	}
}

// WithStore replaces the tracking store opened from the configuration.
func WithStore(store *tracking.FileStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// New builds a Pipeline from cfg.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(p)
	}

	if p.source == nil {
		loaderOpts := []dataset.LoaderOption{dataset.WithTimeout(cfg.Data.Timeout)}
		if cfg.Data.CachePath != "" {
			loaderOpts = append(loaderOpts, dataset.WithCachePath(cfg.Data.CachePath))
		}
		p.source = dataset.NewLoader(cfg.Data.URL, loaderOpts...)
	}
	if p.store == nil {
		var storeOpts []tracking.StoreOption
		if cfg.Tracking.ArtifactRoot != "" {
			storeOpts = append(storeOpts, tracking.WithArtifactRoot(cfg.Tracking.ArtifactRoot))
		}
		store, err := tracking.NewFileStore(cfg.Tracking.URI, storeOpts...)
		if err != nil {
			return nil, err
		}
		p.store = store
	}
	return p, nil
}

// Result is what a successful run produced.
type Result struct {
	Report    metrics.Report
	Model     *linear.ElasticNet
	RunID     string
	ModelInfo *tracking.ModelInfo
}

// Run executes the job. Loading and splitting happen before the tracking
// run starts; everything from fitting onwards happens inside it, so a
// failure there leaves a FAILED run behind.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	logger := log.GetLogger().With(log.ComponentKey, "pipeline")
	start := time.Now()

	table, err := p.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	split, err := dataset.TrainTestSplit(table, p.cfg.Data.Target, p.cfg.Data.TestSize, p.cfg.Data.SplitSeed)
	if err != nil {
		return nil, err
	}

	var runOpts []tracking.RunOption
	if p.cfg.Tracking.RunName != "" {
		runOpts = append(runOpts, tracking.WithRunName(p.cfg.Tracking.RunName))
	}

	res := &Result{}
	err = tracking.WithRun(ctx, p.store, p.cfg.Tracking.Experiment, func(ctx context.Context, run *tracking.Run) error {
		res.RunID = run.ID()
		return p.train(ctx, run, split, res)
	}, runOpts...)
	if err != nil {
		return nil, err
	}

	logger.Info("pipeline finished",
		log.RunIDKey, res.RunID,
		log.RMSEKey, res.Report.RMSE,
		log.MAEKey, res.Report.MAE,
		log.R2ScoreKey, res.Report.R2,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) train(ctx context.Context, run *tracking.Run, split *dataset.Split, res *Result) error {
	cfg := p.cfg
	en := linear.NewElasticNet(
		linear.WithAlpha(cfg.Alpha),
		linear.WithL1Ratio(cfg.L1Ratio),
		linear.WithRandomState(cfg.Model.RandomState),
		linear.WithMaxIter(cfg.Model.MaxIter),
		linear.WithTol(cfg.Model.Tol),
		linear.WithSelection(cfg.Model.Selection),
	)
	if err := en.Fit(split.XTrain, split.YTrain); err != nil {
		return err
	}
	res.Model = en

	testPred, err := predictVec(en, split.XTest)
	if err != nil {
		return err
	}
	log.GetLogger().Debug("model fitted",
		log.ComponentKey, "pipeline",
		log.AlphaKey, cfg.Alpha,
		log.L1RatioKey, cfg.L1Ratio,
		log.IterationKey, en.NIterations(),
		log.DualGapKey, en.DualGap(),
		log.TrainSamplesKey, split.YTrain.Len(),
		log.TestSamplesKey, split.YTest.Len(),
	)
	report, err := metrics.Evaluate(split.YTest, testPred, cfg.Metrics.LegacyMAE)
	if err != nil {
		return err
	}
	res.Report = report

	if err := PrintSummary(p.out, cfg.Alpha, cfg.L1Ratio, report); err != nil {
		return errors.Wrap(err, "print summary")
	}

	if err := run.LogParam("alpha", metrics.FormatValue(cfg.Alpha)); err != nil {
		return err
	}
	if err := run.LogParam("l1_ratio", metrics.FormatValue(cfg.L1Ratio)); err != nil {
		return err
	}
	for _, m := range []struct {
		key   string
		value float64
	}{
		{"rmse", report.RMSE},
		{"r2", report.R2},
		{"mae", report.MAE},
	} {
		if err := run.LogMetric(m.key, m.value, 0); err != nil {
			return err
		}
	}

	trainPred, err := en.Predict(split.XTrain)
	if err != nil {
		return err
	}
	sig, err := tracking.InferSignature(split.FeatureNames, split.XTrain, trainPred)
	if err != nil {
		return err
	}
	example, err := tracking.NewInputExample(split.FeatureNames, split.XTrain, 1)
	if err != nil {
		return err
	}
	info, err := run.LogModel(ctx, en, tracking.LogModelOptions{
		ArtifactPath:        "model",
		RegisteredModelName: cfg.Tracking.ModelName,
		Signature:           sig,
		InputExample:        example,
		FeatureNames:        split.FeatureNames,
	})
	if err != nil {
		return err
	}
	res.ModelInfo = info

	if cfg.Plot {
		if err := p.logPlot(ctx, run, split.YTest, testPred); err != nil {
			return err
		}
	}
	return nil
}

// predictVec runs the model on X and returns the predictions as a vector.
func predictVec(en *linear.ElasticNet, X mat.Matrix) (*mat.VecDense, error) {
	pred, err := en.Predict(X)
	if err != nil {
		return nil, err
	}
	return metrics.ColumnVector(pred)
}

func (p *Pipeline) logPlot(ctx context.Context, run *tracking.Run, actual, predicted *mat.VecDense) error {
	dir, err := os.MkdirTemp("", "winequality-plot-*")
	if err != nil {
		return errors.NewLoggingFailureError("log plot", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, PlotFile)
	// gonum/plot は描画中に panic することがある
	err = errors.SafeExecute("pipeline.plot", func() error {
		return savePredictionPlot(actual, predicted, file)
	})
	if err != nil {
		return err
	}
	return run.LogArtifact(ctx, file, "plots")
}
