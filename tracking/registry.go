package tracking

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/winequality/pkg/errors"
)

const versionPrefix = "version-"

// CreateModelVersion registers source as the next version of the model
// called name, creating the registered model on first use.
func (s *FileStore) CreateModelVersion(ctx context.Context, name, source, runID string) (*ModelVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey("registered model", name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, modelsDir, name)
	now := nowMillis()

	var rm RegisteredModel
	metaPath := filepath.Join(dir, metaFile)
	if _, err := os.Stat(metaPath); err == nil {
		if err := readYAML(metaPath, &rm); err != nil {
			return nil, errors.NewLoggingFailureError("register model", err)
		}
	} else {
		rm = RegisteredModel{Name: name, CreationTimestamp: now}
	}
	rm.LastUpdatedTimestamp = now
	if err := writeYAML(metaPath, &rm); err != nil {
		return nil, errors.NewLoggingFailureError("register model", err)
	}

	versions, err := s.modelVersions(dir)
	if err != nil {
		return nil, errors.NewLoggingFailureError("register model", err)
	}
	next := 1
	for _, v := range versions {
		if v >= next {
			next = v + 1
		}
	}

	mv := &ModelVersion{
		Name:                 name,
		Version:              next,
		CreationTimestamp:    now,
		LastUpdatedTimestamp: now,
		CurrentStage:         "None",
		RunID:                runID,
		Source:               source,
		Status:               "READY",
	}
	if err := writeYAML(filepath.Join(dir, versionPrefix+strconv.Itoa(next), metaFile), mv); err != nil {
		return nil, errors.NewLoggingFailureError("register model", err)
	}
	return mv, nil
}

// GetModelVersion reads one registered version.
func (s *FileStore) GetModelVersion(ctx context.Context, name string, version int) (*ModelVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var mv ModelVersion
	p := filepath.Join(s.root, modelsDir, name, versionPrefix+strconv.Itoa(version), metaFile)
	if err := readYAML(p, &mv); err != nil {
		return nil, errors.NewLoggingFailureError("get model version", err)
	}
	return &mv, nil
}

func (s *FileStore) modelVersions(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var versions []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), versionPrefix) {
			continue
		}
		if v, err := strconv.Atoi(strings.TrimPrefix(e.Name(), versionPrefix)); err == nil {
			versions = append(versions, v)
		}
	}
	return versions, nil
}
