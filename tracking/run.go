package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/YuminosukeSato/winequality/metrics"
	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

// maxParamValueLength matches MLflow's limit for param values.
const maxParamValueLength = 6000

var validKey = regexp.MustCompile(`^[/\w.\- ]+$`)

// Run is an active tracking run. Its methods are safe for concurrent use.
type Run struct {
	store     *FileStore
	dir       string
	artifacts ArtifactRepository

	mu    sync.Mutex
	info  RunInfo
	ended bool
}

// ID returns the run id.
func (r *Run) ID() string { return r.info.RunID }

// ExperimentID returns the id of the experiment that owns the run.
func (r *Run) ExperimentID() string { return r.info.ExperimentID }

// ArtifactURI returns the root URI of the run's artifacts.
func (r *Run) ArtifactURI() string { return r.info.ArtifactURI }

// Info returns a copy of the run metadata.
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

func validateKey(kind, key string) error {
	if key == "" || !validKey.MatchString(key) || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return errors.NewValidationError(kind+" key", "must be alphanumeric with _ - . space or /, and not a relative or absolute path", key)
	}
	return nil
}

func (r *Run) keyPath(kind, key string) string {
	return filepath.Join(r.dir, kind, filepath.FromSlash(key))
}

func (r *Run) checkActive() error {
	if r.ended {
		return errors.Wrapf(errors.ErrRunNotActive, "run %s", r.info.RunID)
	}
	return nil
}

// LogParam records a parameter. Params are immutable: logging a different
// value for an existing key fails.
func (r *Run) LogParam(key, value string) error {
	if err := validateKey("param", key); err != nil {
		return err
	}
	if len(value) > maxParamValueLength {
		return errors.NewValidationError("param value", fmt.Sprintf("longer than %d characters", maxParamValueLength), key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(); err != nil {
		return err
	}

	p := r.keyPath("params", key)
	if old, err := os.ReadFile(p); err == nil {
		if string(old) != value {
			return errors.NewValueError("LogParam",
				fmt.Sprintf("param %q already logged with value %q, cannot change it to %q", key, old, value))
		}
		return nil
	}
	return errors.NewLoggingFailureError("log param", writeFile(p, []byte(value)))
}

// LogMetric appends a value to the history of a metric.
func (r *Run) LogMetric(key string, value float64, step int64) error {
	if err := validateKey("metric", key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(); err != nil {
		return err
	}

	p := r.keyPath("metrics", key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.NewLoggingFailureError("log metric", err)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewLoggingFailureError("log metric", err)
	}
	_, werr := fmt.Fprintf(f, "%d %s %d\n", nowMillis(), metrics.FormatValue(value), step)
	cerr := f.Close()
	return errors.NewLoggingFailureError("log metric", errors.CombineErrors(werr, cerr))
}

// SetTag sets or overwrites a tag.
func (r *Run) SetTag(key, value string) error {
	if err := validateKey("tag", key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(); err != nil {
		return err
	}
	return errors.NewLoggingFailureError("set tag", writeFile(r.keyPath("tags", key), []byte(value)))
}

// LogArtifact uploads a local file into artifactPath ("" for the root).
func (r *Run) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	r.mu.Lock()
	err := r.checkActive()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := r.artifacts.LogArtifact(ctx, localPath, artifactPath); err != nil {
		return errors.NewLoggingFailureError("log artifact", err)
	}
	log.GetLogger().Debug("artifact logged",
		log.ComponentKey, "tracking",
		log.RunIDKey, r.info.RunID,
		log.ArtifactPathKey, artifactPath,
	)
	return nil
}

// LogArtifacts uploads the contents of a local directory into artifactPath.
func (r *Run) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	r.mu.Lock()
	err := r.checkActive()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := r.artifacts.LogArtifacts(ctx, localDir, artifactPath); err != nil {
		return errors.NewLoggingFailureError("log artifacts", err)
	}
	return nil
}

// End marks the run terminated with status. A run can only end once.
func (r *Run) End(status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(); err != nil {
		return err
	}

	end := nowMillis()
	r.info.EndTime = &end
	r.info.Status = status
	if err := r.writeMeta(); err != nil {
		return errors.NewLoggingFailureError("end run", err)
	}
	r.ended = true

	log.GetLogger().Debug("run ended",
		log.ComponentKey, "tracking",
		log.RunIDKey, r.info.RunID,
		"run.status", status.String(),
	)
	return nil
}

func (r *Run) writeMeta() error {
	return writeYAML(filepath.Join(r.dir, metaFile), &r.info)
}
