// Package metrics は回帰モデルの評価指標を提供する
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/winequality/pkg/errors"
)

// checkPair は2つのベクトルの長さを検証する
func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// residuals returns yTrue - yPred.
func residuals(yTrue, yPred *mat.VecDense) []float64 {
	n := yTrue.Len()
	diff := make([]float64, n)
	for i := range diff {
		diff[i] = yTrue.AtVec(i) - yPred.AtVec(i)
	}
	return diff
}

// ColumnVector converts an n×1 matrix, such as the output of Predict, into a
// vector. Vectors are returned as they are.
func ColumnVector(m mat.Matrix) (*mat.VecDense, error) {
	if v, ok := m.(*mat.VecDense); ok {
		return v, nil
	}
	r, c := m.Dims()
	if c != 1 {
		return nil, errors.NewValueError("ColumnVector", "must be a column vector (n×1 matrix)")
	}
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v, nil
}

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	// MSE = (1/n) * Σ(yTrue - yPred)²
	diff := residuals(yTrue, yPred)
	return floats.Dot(diff, diff) / float64(n), nil
}

// RMSE は平方根平均二乗誤差（Root Mean Squared Error）を計算する
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	// MAE = (1/n) * Σ|yTrue - yPred|
	return floats.Norm(residuals(yTrue, yPred), 1) / float64(n), nil
}

// LegacyMAE is the value older runs logged under the name "mae": the mean
// squared error. Use it to compare against those runs.
func LegacyMAE(yTrue, yPred *mat.VecDense) (float64, error) {
	v, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, "LegacyMAE")
	}
	return v, nil
}

// R2Score は決定係数（R²）を計算する
//
// yTrue の分散が0の場合は scikit-learn と同様に、完全一致なら 1.0、
// それ以外は 0.0 を返し UndefinedMetricWarning を発行する。
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	truth := make([]float64, n)
	for i := range truth {
		truth[i] = yTrue.AtVec(i)
	}
	yMean := stat.Mean(truth, nil)

	// 全変動（TSS）と残差変動（RSS）
	floats.AddConst(-yMean, truth)
	tss := floats.Dot(truth, truth)
	diff := residuals(yTrue, yPred)
	rss := floats.Dot(diff, diff)

	if tss == 0 {
		result := 0.0
		if rss == 0 {
			result = 1.0
		}
		errors.Warn(errors.NewUndefinedMetricWarning("R2Score", "yTrue has zero variance", result))
		return result, nil
	}

	// R² = 1 - RSS/TSS
	return 1 - rss/tss, nil
}

// Report holds the evaluation metrics of one model on one data split.
type Report struct {
	RMSE float64
	// MAE is the mean absolute error, or the mean squared error when the
	// report was built with legacy MAE enabled.
	MAE float64
	R2  float64
	MSE float64
}

// Evaluate computes every metric of the report. With legacyMAE the MAE
// field carries LegacyMAE instead of the true mean absolute error.
func Evaluate(yTrue, yPred *mat.VecDense, legacyMAE bool) (Report, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}

	mae := mse
	if !legacyMAE {
		if mae, err = MAE(yTrue, yPred); err != nil {
			return Report{}, errors.Wrap(err, "evaluate")
		}
	}

	r2, err := R2Score(yTrue, yPred)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}

	return Report{
		RMSE: math.Sqrt(mse),
		MAE:  mae,
		R2:   r2,
		MSE:  mse,
	}, nil
}
