// Standard attribute keys for training-pipeline logs.
//
// Keys follow a hierarchical naming convention ("model.name",
// "data.samples") so that records emitted by the loader, the trainer and
// the tracking store can be filtered uniformly.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model, e.g. "ElasticNet".
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "score", "load", "split", "log_model"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	// Examples: "dataset", "linear", "tracking"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the run.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows).
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns).
	FeaturesKey = "data.features"

	// SourceKey records where a dataset was read from (URL or path).
	SourceKey = "data.source"

	// CachePathKey records the local copy of a downloaded dataset.
	CachePathKey = "data.cache_path"

	// TrainSamplesKey and TestSamplesKey record split sizes.
	TrainSamplesKey = "data.train_samples"
	TestSamplesKey  = "data.test_samples"
)

// Performance and Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// IterationKey records the number of solver iterations.
	IterationKey = "training.iteration"

	// DualGapKey records the final duality gap of coordinate descent.
	DualGapKey = "training.dual_gap"

	// RMSEKey, MAEKey and R2ScoreKey record evaluation metrics.
	RMSEKey    = "metrics.rmse"
	MAEKey     = "metrics.mae"
	R2ScoreKey = "metrics.r2_score"
)

// Hyperparameters and Configuration
const (
	// AlphaKey records the overall penalty strength.
	AlphaKey = "hyperparams.alpha"

	// L1RatioKey records the L1/L2 mixing parameter.
	L1RatioKey = "hyperparams.l1_ratio"

	// RandomSeedKey records a random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Tracking Context
const (
	// RunIDKey identifies the tracking run.
	RunIDKey = "tracking.run_id"

	// ExperimentIDKey identifies the tracking experiment.
	ExperimentIDKey = "tracking.experiment_id"

	// ArtifactPathKey records an artifact path relative to the run root.
	ArtifactPathKey = "tracking.artifact_path"
)

// Standard attribute values.
const (
	OperationLoad     = "load"
	OperationSplit    = "split"
	OperationFit      = "fit"
	OperationPredict  = "predict"
	OperationScore    = "score"
	OperationLogModel = "log_model"

	PhaseTraining   = "training"
	PhaseEvaluation = "evaluation"
	PhaseTracking   = "tracking"
)
