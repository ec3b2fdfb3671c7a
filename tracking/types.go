// Package tracking records experiments, runs, parameters, metrics, tags and
// model artifacts in a directory laid out like MLflow's local file store, so
// that `mlflow ui --backend-store-uri ./mlruns` can browse the results.
//
// 構成:
//
//	mlruns/<experiment_id>/meta.yaml
//	mlruns/<experiment_id>/<run_id>/{meta.yaml,params,metrics,tags,artifacts}
//	mlruns/models/<name>/version-<n>/meta.yaml
package tracking

import (
	"time"
)

// RunStatus mirrors MLflow's RunStatus enum.
type RunStatus int

// Run status values as stored in meta.yaml.
const (
	StatusRunning   RunStatus = 1
	StatusScheduled RunStatus = 2
	StatusFinished  RunStatus = 3
	StatusFailed    RunStatus = 4
	StatusKilled    RunStatus = 5
)

func (s RunStatus) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusScheduled:
		return "SCHEDULED"
	case StatusFinished:
		return "FINISHED"
	case StatusFailed:
		return "FAILED"
	case StatusKilled:
		return "KILLED"
	default:
		return "UNKNOWN"
	}
}

// Well-known tag keys.
const (
	TagSourceName      = "mlflow.source.name"
	TagSourceType      = "mlflow.source.type"
	TagUser            = "mlflow.user"
	TagRunName         = "mlflow.runName"
	TagLogModelHistory = "mlflow.log-model.history"
)

const (
	// DefaultExperimentName is the experiment used when none is given.
	DefaultExperimentName = "Default"
	// DefaultExperimentID is the id MLflow reserves for the default experiment.
	DefaultExperimentID = "0"

	lifecycleActive = "active"
	// sourceTypeLocal is SourceType.LOCAL in MLflow's protobuf enum.
	sourceTypeLocal = 4
	modelsDir       = "models"
)

// Experiment groups runs.
type Experiment struct {
	ID               string `yaml:"experiment_id"`
	Name             string `yaml:"name"`
	ArtifactLocation string `yaml:"artifact_location"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	CreationTime     int64  `yaml:"creation_time"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
}

// RunInfo is the content of a run's meta.yaml.
type RunInfo struct {
	ArtifactURI    string    `yaml:"artifact_uri"`
	EndTime        *int64    `yaml:"end_time"`
	EntryPointName string    `yaml:"entry_point_name"`
	ExperimentID   string    `yaml:"experiment_id"`
	LifecycleStage string    `yaml:"lifecycle_stage"`
	RunID          string    `yaml:"run_id"`
	RunName        string    `yaml:"run_name"`
	RunUUID        string    `yaml:"run_uuid"`
	SourceName     string    `yaml:"source_name"`
	SourceType     int       `yaml:"source_type"`
	SourceVersion  string    `yaml:"source_version"`
	StartTime      int64     `yaml:"start_time"`
	Status         RunStatus `yaml:"status"`
	Tags           []string  `yaml:"tags"`
	UserID         string    `yaml:"user_id"`
}

// Metric is one logged metric value.
type Metric struct {
	Key       string
	Value     float64
	Timestamp int64
	Step      int64
}

// RunData is everything logged to a run, as read back from the store.
type RunData struct {
	Info    RunInfo
	Params  map[string]string
	Tags    map[string]string
	Metrics map[string][]Metric
}

// LatestMetric returns the most recently logged value of key.
func (d *RunData) LatestMetric(key string) (float64, bool) {
	history := d.Metrics[key]
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1].Value, true
}

// RegisteredModel is the content of models/<name>/meta.yaml.
type RegisteredModel struct {
	Name                 string  `yaml:"name"`
	CreationTimestamp    int64   `yaml:"creation_timestamp"`
	LastUpdatedTimestamp int64   `yaml:"last_updated_timestamp"`
	Description          *string `yaml:"description"`
}

// ModelVersion is the content of models/<name>/version-<n>/meta.yaml.
type ModelVersion struct {
	Name                 string  `yaml:"name"`
	Version              int     `yaml:"version"`
	CreationTimestamp    int64   `yaml:"creation_timestamp"`
	LastUpdatedTimestamp int64   `yaml:"last_updated_timestamp"`
	CurrentStage         string  `yaml:"current_stage"`
	Description          *string `yaml:"description"`
	RunID                string  `yaml:"run_id"`
	RunLink              *string `yaml:"run_link"`
	Source               string  `yaml:"source"`
	Status               string  `yaml:"status"`
	StatusMessage        *string `yaml:"status_message"`
	UserID               *string `yaml:"user_id"`
}

// nowMillis returns the current Unix time in milliseconds.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
