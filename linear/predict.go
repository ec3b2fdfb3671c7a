package linear

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/winequality/core/parallel"
	"github.com/YuminosukeSato/winequality/pkg/errors"
)

// predictLinear computes X·coef + intercept as an n×1 matrix.
func predictLinear(X mat.Matrix, coef []float64, intercept float64) *mat.Dense {
	r, c := X.Dims()
	predictions := mat.NewDense(r, 1, nil)

	parallel.ParallelizeWithThreshold(r, parallel.DefaultThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			pred := intercept
			for j := 0; j < c; j++ {
				pred += X.At(i, j) * coef[j]
			}
			predictions.Set(i, 0, pred)
		}
	})

	return predictions
}

// validateFitInput checks the shape and contents of training data and
// returns n, p. Every failure is a FitError.
func validateFitInput(modelName string, X, y mat.Matrix) (int, int, error) {
	n, p := X.Dims()
	ny, cy := y.Dims()

	if n == 0 || p == 0 || ny == 0 {
		return 0, 0, errors.NewFitError(modelName, "empty training data", errors.ErrEmptyData)
	}
	if ny != n {
		return 0, 0, errors.NewFitError(modelName, "X and y have different numbers of rows",
			errors.NewDimensionError(modelName+".Fit", n, ny, 0))
	}
	if cy != 1 {
		return 0, 0, errors.NewFitError(modelName, "y must be a column vector",
			errors.NewDimensionError(modelName+".Fit", 1, cy, 1))
	}
	if err := errors.CheckMatrix(modelName+".Fit", X, n, p, -1); err != nil {
		return 0, 0, errors.NewFitError(modelName, "X contains NaN or Inf", err)
	}
	if err := errors.CheckMatrix(modelName+".Fit", y, n, 1, -1); err != nil {
		return 0, 0, errors.NewFitError(modelName, "y contains NaN or Inf", err)
	}
	return n, p, nil
}
