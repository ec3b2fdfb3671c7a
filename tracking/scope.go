package tracking

import (
	"context"

	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

// WithRun starts a run in the named experiment, calls fn with it and always
// ends it: FINISHED when fn returns nil, FAILED when it returns an error or
// panics. A panic is returned as a PanicError.
func WithRun(ctx context.Context, store *FileStore, experiment string, fn func(context.Context, *Run) error, opts ...RunOption) (err error) {
	exp, err := store.GetOrCreateExperiment(ctx, experiment)
	if err != nil {
		return err
	}
	run, err := store.CreateRun(ctx, exp.ID, opts...)
	if err != nil {
		return err
	}

	defer func() {
		status := StatusFinished
		if err != nil {
			status = StatusFailed
		}
		if endErr := run.End(status); endErr != nil {
			err = errors.CombineErrors(err, endErr)
		}
		if err != nil {
			log.GetLogger().Debug("run failed", log.RunIDKey, run.ID(), log.ErrAttrKey, err.Error())
		}
	}()
	defer errors.Recover(&err, "tracking.WithRun")

	return fn(ctx, run)
}
