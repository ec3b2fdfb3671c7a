package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/winequality/linear"
	"github.com/YuminosukeSato/winequality/pkg/errors"
)

func newStore(t *testing.T, opts ...StoreOption) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "mlruns"), opts...)
	require.NoError(t, err)
	return store
}

func TestGetOrCreateExperiment(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	def, err := store.GetOrCreateExperiment(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultExperimentID, def.ID)
	assert.Equal(t, DefaultExperimentName, def.Name)
	assert.Equal(t, fileURI(filepath.Join(store.Root(), "0")), def.ArtifactLocation)

	again, err := store.GetOrCreateExperiment(ctx, DefaultExperimentName)
	require.NoError(t, err)
	assert.Equal(t, def.ID, again.ID)

	other, err := store.GetOrCreateExperiment(ctx, "wine")
	require.NoError(t, err)
	assert.Equal(t, "1", other.ID)

	var meta map[string]interface{}
	raw, err := os.ReadFile(filepath.Join(store.Root(), "1", "meta.yaml"))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, "wine", meta["name"])
	assert.Equal(t, "active", meta["lifecycle_stage"])
	assert.Equal(t, "1", meta["experiment_id"])
}

func TestNewFileStoreRejectsRemoteURI(t *testing.T) {
	_, err := NewFileStore("https://dagshub.com/user/repo.mlflow")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, err := store.GetOrCreateExperiment(ctx, "")
	require.NoError(t, err)

	run, err := store.CreateRun(ctx, exp.ID, WithRunName("test-run"), WithRunTags(map[string]string{"team": "wine"}))
	require.NoError(t, err)
	assert.Len(t, run.ID(), 32)
	assert.Equal(t, StatusRunning, run.Info().Status)

	require.NoError(t, run.LogParam("alpha", "0.5"))
	require.NoError(t, run.LogParam("alpha", "0.5"), "same value again is allowed")
	err = run.LogParam("alpha", "0.7")
	var valueErr *errors.ValueError
	assert.True(t, errors.As(err, &valueErr), "params are immutable")

	require.NoError(t, run.LogMetric("rmse", 0.75, 0))
	require.NoError(t, run.LogMetric("rmse", 0.7, 1))
	require.NoError(t, run.LogMetric("r2", 2, 0))

	assert.Error(t, run.LogParam("../escape", "x"))
	assert.Error(t, run.SetTag("", "x"))

	require.NoError(t, run.End(StatusFinished))
	assert.True(t, errors.Is(run.LogMetric("rmse", 1, 2), errors.ErrRunNotActive))
	assert.True(t, errors.Is(run.End(StatusFinished), errors.ErrRunNotActive))

	data, err := store.GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, data.Info.Status)
	require.NotNil(t, data.Info.EndTime)
	assert.Equal(t, "0.5", data.Params["alpha"])
	assert.Equal(t, "test-run", data.Tags[TagRunName])
	assert.Equal(t, "LOCAL", data.Tags[TagSourceType])
	assert.Equal(t, "wine", data.Tags["team"])
	assert.NotEmpty(t, data.Tags[TagUser])

	rmse, ok := data.LatestMetric("rmse")
	require.True(t, ok)
	assert.Equal(t, 0.7, rmse)
	require.Len(t, data.Metrics["rmse"], 2)
	assert.Equal(t, int64(1), data.Metrics["rmse"][1].Step)

	// metrics/<key> は "<timestamp> <value> <step>" の行
	raw, err := os.ReadFile(filepath.Join(store.Root(), exp.ID, run.ID(), "metrics", "r2"))
	require.NoError(t, err)
	fields := strings.Fields(string(raw))
	require.Len(t, fields, 3)
	assert.Equal(t, "2.0", fields[1])
	assert.Equal(t, "0", fields[2])

	var meta map[string]interface{}
	raw, err = os.ReadFile(filepath.Join(store.Root(), exp.ID, run.ID(), "meta.yaml"))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, 3, meta["status"])
	assert.Equal(t, run.ID(), meta["run_uuid"])
}

func TestCreateRunTagFailureEndsRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, err := store.GetOrCreateExperiment(ctx, "")
	require.NoError(t, err)

	run, err := store.CreateRun(ctx, exp.ID, WithRunTags(map[string]string{"bad*key": "x"}))
	require.Error(t, err)
	assert.Nil(t, run)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve), "got %v", err)

	// meta.yaml は書かれているので RUNNING のまま残ってはいけない
	entries, err := os.ReadDir(filepath.Join(store.Root(), exp.ID))
	require.NoError(t, err)
	var runIDs []string
	for _, e := range entries {
		if e.IsDir() {
			runIDs = append(runIDs, e.Name())
		}
	}
	require.Len(t, runIDs, 1)

	data, err := store.GetRun(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, data.Info.Status)
	assert.NotNil(t, data.Info.EndTime)
}

func TestWithRun(t *testing.T) {
	ctx := context.Background()

	t.Run("success finishes the run", func(t *testing.T) {
		store := newStore(t)
		var runID string
		err := WithRun(ctx, store, "wine", func(ctx context.Context, run *Run) error {
			runID = run.ID()
			return run.LogParam("l1_ratio", "0.5")
		})
		require.NoError(t, err)

		data, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, StatusFinished, data.Info.Status)
		assert.Equal(t, "0.5", data.Params["l1_ratio"])
	})

	t.Run("error fails the run", func(t *testing.T) {
		store := newStore(t)
		var runID string
		boom := errors.New("boom")
		err := WithRun(ctx, store, "", func(ctx context.Context, run *Run) error {
			runID = run.ID()
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		data, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, data.Info.Status)
	})

	t.Run("panic fails the run", func(t *testing.T) {
		store := newStore(t)
		var runID string
		err := WithRun(ctx, store, "", func(ctx context.Context, run *Run) error {
			runID = run.ID()
			panic("unexpected")
		})
		var panicErr *errors.PanicError
		require.True(t, errors.As(err, &panicErr))
		assert.Equal(t, "unexpected", panicErr.PanicValue)

		data, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, data.Info.Status)
	})
}

func fittedModel(t *testing.T) (*linear.ElasticNet, *mat.Dense, []string) {
	t.Helper()
	X := mat.NewDense(6, 2, []float64{
		1, 0.5,
		2, 0.1,
		3, 0.9,
		4, 0.3,
		5, 0.7,
		6, 0.2,
	})
	y := mat.NewVecDense(6, []float64{5, 5, 6, 6, 7, 7})
	en := linear.NewElasticNet(linear.WithAlpha(0.5), linear.WithL1Ratio(0.5), linear.WithRandomState(42))
	require.NoError(t, en.Fit(X, y))
	return en, X, []string{"alcohol", "pH"}
}

func TestLogModel(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	en, X, names := fittedModel(t)

	pred, err := en.Predict(X)
	require.NoError(t, err)
	sig, err := InferSignature(names, X, pred)
	require.NoError(t, err)
	example, err := NewInputExample(names, X, 1)
	require.NoError(t, err)

	var infos []*ModelInfo
	for i := 0; i < 2; i++ {
		err = WithRun(ctx, store, "", func(ctx context.Context, run *Run) error {
			info, err := run.LogModel(ctx, en, LogModelOptions{
				RegisteredModelName: "ElasticnetWineModel",
				Signature:           sig,
				InputExample:        example,
				FeatureNames:        names,
			})
			infos = append(infos, info)
			return err
		})
		require.NoError(t, err)
	}
	require.Len(t, infos, 2)
	assert.Equal(t, 1, infos[0].Version)
	assert.Equal(t, 2, infos[1].Version)
	assert.Equal(t, "model", infos[0].ArtifactPath)

	runID := strings.TrimSuffix(strings.TrimPrefix(infos[0].ModelURI, "runs:/"), "/model")
	modelDir := filepath.Join(store.Root(), "0", runID, "artifacts", "model")

	var mm map[string]interface{}
	raw, err := os.ReadFile(filepath.Join(modelDir, MLmodelFile))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &mm))
	assert.Equal(t, "model", mm["artifact_path"])
	assert.Equal(t, runID, mm["run_id"])

	signature := mm["signature"].(map[string]interface{})
	var inputs []ColumnSpec
	require.NoError(t, json.Unmarshal([]byte(signature["inputs"].(string)), &inputs))
	assert.Equal(t, []ColumnSpec{
		{Type: "double", Name: "alcohol", Required: true},
		{Type: "double", Name: "pH", Required: true},
	}, inputs)
	assert.JSONEq(t, `[{"type":"tensor","tensor-spec":{"dtype":"float64","shape":[-1]}}]`, signature["outputs"].(string))

	var ex InputExample
	raw, err = os.ReadFile(filepath.Join(modelDir, InputExampleFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &ex))
	assert.Equal(t, names, ex.Columns)
	assert.Equal(t, [][]float64{{1, 0.5}}, ex.Data)

	weights, err := LoadModelWeights(modelDir)
	require.NoError(t, err)
	assert.Equal(t, en.Coef(), weights.Coefficients)
	assert.Equal(t, names, weights.Features)

	mv, err := store.GetModelVersion(ctx, "ElasticnetWineModel", 1)
	require.NoError(t, err)
	assert.Equal(t, runID, mv.RunID)
	assert.Equal(t, "READY", mv.Status)
	assert.Equal(t, infos[0].Source, mv.Source)

	data, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(data.Tags[TagLogModelHistory]), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "model", history[0]["artifact_path"])
}

func TestInferSignatureErrors(t *testing.T) {
	X := mat.NewDense(3, 2, nil)
	_, err := InferSignature([]string{"a"}, X, mat.NewDense(3, 1, nil))
	assert.Error(t, err)
	_, err = InferSignature([]string{"a", "b"}, X, mat.NewDense(2, 1, nil))
	assert.Error(t, err)
	_, err = InferSignature([]string{"a", "b"}, X, mat.NewDense(3, 2, nil))
	assert.Error(t, err)
}

func TestLocalArtifacts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, err := store.GetOrCreateExperiment(ctx, "")
	require.NoError(t, err)
	run, err := store.CreateRun(ctx, exp.ID)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello\n"), 0o644))
	require.NoError(t, run.LogArtifact(ctx, src, "docs"))

	got, err := os.ReadFile(filepath.Join(store.Root(), exp.ID, run.ID(), "artifacts", "docs", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))

	_, err = NewArtifactRepository("gs://bucket/path")
	assert.Error(t, err)
}

func TestS3ArtifactRoot(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			_, _ = io.Copy(io.Discard, r.Body)
			mu.Lock()
			puts = append(puts, r.URL.Path)
			n := len(puts)
			mu.Unlock()
			w.Header().Set("ETag", `"`+strconv.Itoa(n)+`"`)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv(envS3Endpoint, srv.URL)
	t.Setenv(envAccessKey, "minioadmin")
	t.Setenv(envSecretKey, "minioadmin")
	t.Setenv(envRegion, "us-east-1")

	ctx := context.Background()
	store := newStore(t, WithArtifactRoot("s3://mlflow/artifacts/"))
	exp, err := store.GetOrCreateExperiment(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "s3://mlflow/artifacts/0", exp.ArtifactLocation)

	run, err := store.CreateRun(ctx, exp.ID)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "plot.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))
	require.NoError(t, run.LogArtifact(ctx, src, "plots"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, puts, 1)
	assert.Equal(t, "/mlflow/artifacts/0/"+run.ID()+"/artifacts/plots/plot.png", puts[0])
}
