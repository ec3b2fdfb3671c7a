package tracking

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

// DefaultTrackingURI is where runs are stored when nothing else is configured.
const DefaultTrackingURI = "./mlruns"

const metaFile = "meta.yaml"

// FileStore is a tracking backend on the local filesystem.
type FileStore struct {
	root         string
	artifactRoot string

	mu sync.Mutex
}

// StoreOption configures a FileStore.
type StoreOption func(*FileStore)

// WithArtifactRoot stores artifacts of new experiments under uri instead of
// inside the tracking directory. s3://bucket/prefix is supported.
func WithArtifactRoot(uri string) StoreOption {
	return func(s *FileStore) {
		s.artifactRoot = strings.TrimRight(uri, "/")
	}
}

// NewFileStore opens (creating if needed) the store at uri, which is a path
// or a file:// URI.
func NewFileStore(uri string, opts ...StoreOption) (*FileStore, error) {
	if uri == "" {
		uri = DefaultTrackingURI
	}
	if strings.Contains(uri, "://") && !strings.HasPrefix(uri, "file://") {
		return nil, errors.NewValidationError("tracking_uri", "only local paths and file:// URIs are supported", uri)
	}
	root, err := filepath.Abs(localPathFromURI(uri))
	if err != nil {
		return nil, errors.NewLoggingFailureError("open store", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.NewLoggingFailureError("open store", err)
	}

	s := &FileStore{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute directory of the store.
func (s *FileStore) Root() string {
	return s.root
}

// GetExperimentByName returns the active experiment called name, or nil.
func (s *FileStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exps, err := s.listExperiments()
	if err != nil {
		return nil, err
	}
	for _, exp := range exps {
		if exp.Name == name && exp.LifecycleStage == lifecycleActive {
			return exp, nil
		}
	}
	return nil, nil
}

// GetOrCreateExperiment returns the experiment called name, creating it when
// missing. The default experiment always gets id "0".
func (s *FileStore) GetOrCreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	if name == "" {
		name = DefaultExperimentName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, err := s.GetExperimentByName(ctx, name)
	if err != nil || exp != nil {
		return exp, err
	}

	exps, err := s.listExperiments()
	if err != nil {
		return nil, err
	}
	id := DefaultExperimentID
	if name != DefaultExperimentName || s.experimentExists(DefaultExperimentID) {
		next := 1
		for _, e := range exps {
			if n, err := strconv.Atoi(e.ID); err == nil && n >= next {
				next = n + 1
			}
		}
		id = strconv.Itoa(next)
	}

	now := nowMillis()
	exp = &Experiment{
		ID:               id,
		Name:             name,
		ArtifactLocation: s.experimentArtifactLocation(id),
		LifecycleStage:   lifecycleActive,
		CreationTime:     now,
		LastUpdateTime:   now,
	}
	if err := writeYAML(filepath.Join(s.root, id, metaFile), exp); err != nil {
		return nil, errors.NewLoggingFailureError("create experiment", err)
	}

	log.GetLogger().Info("experiment created",
		log.ComponentKey, "tracking",
		log.ExperimentIDKey, id,
		"experiment.name", name,
	)
	return exp, nil
}

func (s *FileStore) experimentExists(id string) bool {
	_, err := os.Stat(filepath.Join(s.root, id, metaFile))
	return err == nil
}

func (s *FileStore) experimentArtifactLocation(id string) string {
	if s.artifactRoot != "" {
		return s.artifactRoot + "/" + id
	}
	return fileURI(filepath.Join(s.root, id))
}

func (s *FileStore) listExperiments() ([]*Experiment, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.NewLoggingFailureError("list experiments", err)
	}
	var exps []*Experiment
	for _, e := range entries {
		if !e.IsDir() || e.Name() == modelsDir || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !s.experimentExists(e.Name()) {
			continue
		}
		var exp Experiment
		if err := readYAML(filepath.Join(s.root, e.Name(), metaFile), &exp); err != nil {
			return nil, errors.NewLoggingFailureError("list experiments", err)
		}
		exps = append(exps, &exp)
	}
	return exps, nil
}

// RunOption configures CreateRun.
type RunOption func(*runConfig)

type runConfig struct {
	name string
	tags map[string]string
}

// WithRunName sets mlflow.runName. Without it a name is derived from the id.
func WithRunName(name string) RunOption {
	return func(c *runConfig) {
		c.name = name
	}
}

// WithRunTags sets extra tags at run creation.
func WithRunTags(tags map[string]string) RunOption {
	return func(c *runConfig) {
		for k, v := range tags {
			c.tags[k] = v
		}
	}
}

// CreateRun starts a new RUNNING run in experimentID.
func (s *FileStore) CreateRun(ctx context.Context, experimentID string, opts ...RunOption) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var exp Experiment
	if err := readYAML(filepath.Join(s.root, experimentID, metaFile), &exp); err != nil {
		return nil, errors.NewLoggingFailureError("create run", err)
	}

	cfg := runConfig{tags: make(map[string]string)}
	for _, opt := range opts {
		opt(&cfg)
	}

	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if cfg.name == "" {
		cfg.name = "run-" + runID[:8]
	}
	userName := currentUser()
	sourceName := ""
	if len(os.Args) > 0 {
		sourceName = os.Args[0]
	}

	info := RunInfo{
		ArtifactURI:    exp.ArtifactLocation + "/" + runID + "/artifacts",
		ExperimentID:   experimentID,
		LifecycleStage: lifecycleActive,
		RunID:          runID,
		RunName:        cfg.name,
		RunUUID:        runID,
		SourceType:     sourceTypeLocal,
		StartTime:      nowMillis(),
		Status:         StatusRunning,
		Tags:           []string{},
		UserID:         userName,
	}

	repo, err := NewArtifactRepository(info.ArtifactURI)
	if err != nil {
		return nil, errors.NewLoggingFailureError("create run", err)
	}

	run := &Run{
		store:     s,
		info:      info,
		dir:       filepath.Join(s.root, experimentID, runID),
		artifacts: repo,
	}
	if err := run.writeMeta(); err != nil {
		return nil, errors.NewLoggingFailureError("create run", err)
	}

	tags := map[string]string{
		TagRunName:    cfg.name,
		TagUser:       userName,
		TagSourceName: sourceName,
		TagSourceType: "LOCAL",
	}
	for k, v := range cfg.tags {
		tags[k] = v
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := run.SetTag(k, tags[k]); err != nil {
			// 呼び出し側に run が渡らないので、ここで終了させる
			if endErr := run.End(StatusFailed); endErr != nil {
				err = errors.CombineErrors(err, endErr)
			}
			return nil, err
		}
	}

	log.GetLogger().Debug("run started",
		log.ComponentKey, "tracking",
		log.ExperimentIDKey, experimentID,
		log.RunIDKey, runID,
	)
	return run, nil
}

// GetRun reads back everything logged to runID.
func (s *FileStore) GetRun(ctx context.Context, runID string) (*RunData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exps, err := s.listExperiments()
	if err != nil {
		return nil, err
	}
	for _, exp := range exps {
		dir := filepath.Join(s.root, exp.ID, runID)
		if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
			continue
		}
		return readRunDir(dir)
	}
	return nil, errors.NewValueError("GetRun", fmt.Sprintf("run %q not found", runID))
}

func readRunDir(dir string) (*RunData, error) {
	data := &RunData{
		Params:  make(map[string]string),
		Tags:    make(map[string]string),
		Metrics: make(map[string][]Metric),
	}
	if err := readYAML(filepath.Join(dir, metaFile), &data.Info); err != nil {
		return nil, errors.NewLoggingFailureError("read run", err)
	}
	if err := readKeyFiles(filepath.Join(dir, "params"), data.Params); err != nil {
		return nil, errors.NewLoggingFailureError("read params", err)
	}
	if err := readKeyFiles(filepath.Join(dir, "tags"), data.Tags); err != nil {
		return nil, errors.NewLoggingFailureError("read tags", err)
	}

	metricDir := filepath.Join(dir, "metrics")
	files, err := listKeyFiles(metricDir)
	if err != nil {
		return nil, errors.NewLoggingFailureError("read metrics", err)
	}
	for _, key := range files {
		history, err := readMetricFile(filepath.Join(metricDir, filepath.FromSlash(key)), key)
		if err != nil {
			return nil, errors.NewLoggingFailureError("read metrics", err)
		}
		data.Metrics[key] = history
	}
	return data, nil
}

func readMetricFile(p, key string) ([]Metric, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var history []Metric
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		m := Metric{Key: key}
		m.Timestamp, _ = strconv.ParseInt(fields[0], 10, 64)
		if m.Value, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return nil, errors.Wrapf(err, "metric %s", key)
		}
		if len(fields) > 2 {
			m.Step, _ = strconv.ParseInt(fields[2], 10, 64)
		}
		history = append(history, m)
	}
	return history, errors.WithStack(sc.Err())
}

// listKeyFiles returns the slash-separated relative names of the files
// under dir. Keys may contain "/" and are then stored in subdirectories.
func listKeyFiles(dir string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}

func readKeyFiles(dir string, dst map[string]string) error {
	keys, err := listKeyFiles(dir)
	if err != nil {
		return err
	}
	for _, k := range keys {
		raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(k)))
		if err != nil {
			return errors.WithStack(err)
		}
		dst[k] = string(raw)
	}
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func writeYAML(p string, v interface{}) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(p))
	}
	return writeFile(p, raw)
}

func readYAML(p string, v interface{}) error {
	raw, err := os.ReadFile(p)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(yaml.Unmarshal(raw, v), "decode %s", p)
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(p, data, 0o644))
}
