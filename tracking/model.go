package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/winequality/core/model"
	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

// Files written into a model artifact directory.
const (
	MLmodelFile      = "MLmodel"
	ModelDataFile    = "model.json"
	InputExampleFile = "input_example.json"

	// FlavorName identifies models saved by this package in MLmodel.
	FlavorName = "gonum_linear"
)

// ColumnSpec describes one named input column.
type ColumnSpec struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// TensorSpec describes an unnamed tensor output.
type TensorSpec struct {
	Type   string          `json:"type"`
	Tensor TensorSpecShape `json:"tensor-spec"`
}

// TensorSpecShape is the dtype and shape of a tensor; -1 is a variable axis.
type TensorSpecShape struct {
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// Signature is the input and output schema of a model.
type Signature struct {
	Inputs  []ColumnSpec
	Outputs []TensorSpec
}

// InferSignature derives a signature from training features and the model's
// predictions on them. Every feature is a double column; the output is a
// one-dimensional float64 tensor.
func InferSignature(featureNames []string, X, predictions mat.Matrix) (*Signature, error) {
	r, c := X.Dims()
	if c != len(featureNames) {
		return nil, errors.NewDimensionError("InferSignature", len(featureNames), c, 1)
	}
	pr, pc := predictions.Dims()
	if pr != r {
		return nil, errors.NewDimensionError("InferSignature", r, pr, 0)
	}
	if pc != 1 {
		return nil, errors.NewValueError("InferSignature", "predictions must be a column vector")
	}

	sig := &Signature{Inputs: make([]ColumnSpec, c)}
	for j, name := range featureNames {
		sig.Inputs[j] = ColumnSpec{Type: "double", Name: name, Required: true}
	}
	sig.Outputs = []TensorSpec{{Type: "tensor", Tensor: TensorSpecShape{DType: "float64", Shape: []int{-1}}}}
	return sig, nil
}

// InputExample is a small sample of model input, saved in pandas "split"
// orientation.
type InputExample struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

// NewInputExample takes the first n rows of X.
func NewInputExample(featureNames []string, X mat.Matrix, n int) (*InputExample, error) {
	r, c := X.Dims()
	if c != len(featureNames) {
		return nil, errors.NewDimensionError("NewInputExample", len(featureNames), c, 1)
	}
	if n > r {
		n = r
	}
	ex := &InputExample{Columns: append([]string(nil), featureNames...), Data: make([][]float64, n)}
	for i := 0; i < n; i++ {
		ex.Data[i] = mat.Row(nil, i, X)
	}
	return ex, nil
}

// LogModelOptions controls LogModel.
type LogModelOptions struct {
	// ArtifactPath is the directory under the run's artifacts, default "model".
	ArtifactPath string
	// RegisteredModelName, when set, registers a new version of that model.
	RegisteredModelName string
	Signature           *Signature
	InputExample        *InputExample
	// FeatureNames are stored alongside the weights.
	FeatureNames []string
}

// ModelInfo describes a logged model.
type ModelInfo struct {
	ModelUUID    string
	ArtifactPath string
	ModelURI     string
	Source       string
	// Version is the registered version, 0 if the model was not registered.
	Version int
}

type mlmodel struct {
	ArtifactPath          string                            `yaml:"artifact_path"`
	Flavors               map[string]map[string]interface{} `yaml:"flavors"`
	ModelUUID             string                            `yaml:"model_uuid"`
	RunID                 string                            `yaml:"run_id"`
	SavedInputExampleInfo map[string]string                 `yaml:"saved_input_example_info,omitempty"`
	Signature             map[string]interface{}            `yaml:"signature,omitempty"`
	UTCTimeCreated        string                            `yaml:"utc_time_created"`
}

// LogModel saves m under the run's artifacts (MLmodel, model.json and an
// optional input_example.json), appends it to the run's model history tag
// and optionally registers it in the model registry.
func (r *Run) LogModel(ctx context.Context, m model.Artifact, opts LogModelOptions) (*ModelInfo, error) {
	if opts.ArtifactPath == "" {
		opts.ArtifactPath = "model"
	}
	if err := validateKey("artifact", opts.ArtifactPath); err != nil {
		return nil, err
	}

	weights, err := m.ExportWeights()
	if err != nil {
		return nil, errors.Wrap(err, "log model")
	}
	weights.Features = opts.FeatureNames

	tmp, err := os.MkdirTemp("", "winequality-model-*")
	if err != nil {
		return nil, errors.NewLoggingFailureError("log model", err)
	}
	defer os.RemoveAll(tmp)

	var buf bytes.Buffer
	if err := weights.Encode(&buf); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(tmp, ModelDataFile), buf.Bytes()); err != nil {
		return nil, errors.NewLoggingFailureError("log model", err)
	}

	info := &ModelInfo{
		ModelUUID:    uuid.NewString(),
		ArtifactPath: opts.ArtifactPath,
		ModelURI:     "runs:/" + r.ID() + "/" + opts.ArtifactPath,
		Source:       r.ArtifactURI() + "/" + opts.ArtifactPath,
	}
	mm := mlmodel{
		ArtifactPath: opts.ArtifactPath,
		Flavors: map[string]map[string]interface{}{
			FlavorName: {
				"data":           ModelDataFile,
				"model_type":     weights.ModelType,
				"format_version": weights.Version,
			},
		},
		ModelUUID:      info.ModelUUID,
		RunID:          r.ID(),
		UTCTimeCreated: time.Now().UTC().Format("2006-01-02 15:04:05.000000"),
	}

	if opts.Signature != nil {
		inputs, err := json.Marshal(opts.Signature.Inputs)
		if err != nil {
			return nil, errors.Wrap(err, "encode signature inputs")
		}
		outputs, err := json.Marshal(opts.Signature.Outputs)
		if err != nil {
			return nil, errors.Wrap(err, "encode signature outputs")
		}
		mm.Signature = map[string]interface{}{
			"inputs":  string(inputs),
			"outputs": string(outputs),
			"params":  nil,
		}
	}

	if opts.InputExample != nil {
		raw, err := json.Marshal(opts.InputExample)
		if err != nil {
			return nil, errors.Wrap(err, "encode input example")
		}
		if err := writeFile(filepath.Join(tmp, InputExampleFile), raw); err != nil {
			return nil, errors.NewLoggingFailureError("log model", err)
		}
		mm.SavedInputExampleInfo = map[string]string{
			"artifact_path": InputExampleFile,
			"type":          "dataframe",
			"pandas_orient": "split",
		}
	}

	raw, err := yaml.Marshal(&mm)
	if err != nil {
		return nil, errors.Wrap(err, "encode MLmodel")
	}
	if err := writeFile(filepath.Join(tmp, MLmodelFile), raw); err != nil {
		return nil, errors.NewLoggingFailureError("log model", err)
	}

	if err := r.LogArtifacts(ctx, tmp, opts.ArtifactPath); err != nil {
		return nil, err
	}
	if err := r.appendModelHistory(mm); err != nil {
		return nil, err
	}

	if opts.RegisteredModelName != "" {
		mv, err := r.store.CreateModelVersion(ctx, opts.RegisteredModelName, info.Source, r.ID())
		if err != nil {
			return nil, err
		}
		info.Version = mv.Version
	}

	log.GetLogger().Info("model logged",
		log.ComponentKey, "tracking",
		log.OperationKey, log.OperationLogModel,
		log.ModelNameKey, weights.ModelType,
		log.RunIDKey, r.ID(),
		log.ArtifactPathKey, opts.ArtifactPath,
		"model.version", info.Version,
	)
	return info, nil
}

// appendModelHistory adds mm to the JSON list kept in mlflow.log-model.history.
func (r *Run) appendModelHistory(mm mlmodel) error {
	var history []map[string]interface{}
	if raw, err := os.ReadFile(r.keyPath("tags", TagLogModelHistory)); err == nil {
		if err := json.Unmarshal(raw, &history); err != nil {
			history = nil
		}
	}
	entry := map[string]interface{}{
		"run_id":           mm.RunID,
		"artifact_path":    mm.ArtifactPath,
		"utc_time_created": mm.UTCTimeCreated,
		"flavors":          mm.Flavors,
		"model_uuid":       mm.ModelUUID,
	}
	if mm.Signature != nil {
		entry["signature"] = mm.Signature
	}
	history = append(history, entry)

	raw, err := json.Marshal(history)
	if err != nil {
		return errors.Wrap(err, "encode model history")
	}
	return r.SetTag(TagLogModelHistory, string(raw))
}

// LoadModelWeights reads model.json from a logged model directory.
func LoadModelWeights(modelDir string) (*model.ModelWeights, error) {
	f, err := os.Open(filepath.Join(localPathFromURI(modelDir), ModelDataFile))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return model.DecodeWeights(f)
}
