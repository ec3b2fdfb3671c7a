package linear

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/winequality/core/model"
	"github.com/YuminosukeSato/winequality/core/parallel"
	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

const linearRegressionName = "LinearRegression"

// LinearRegression は通常の最小二乗法による線形回帰モデル
// ElasticNet の alpha=0 と同じ解を与える基準モデルとして使う
type LinearRegression struct {
	state        *model.StateManager
	fitIntercept bool

	coef      []float64 // 重み（係数）
	intercept float64   // 切片
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression(opts ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{
		state:        model.NewStateManager(),
		fitIntercept: true,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// Fit はモデルを訓練データで学習させる
// 中心化したデータに対して QR 分解で最小二乗問題 min ||Xw - y|| を解く
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	n, p, err := validateFitInput(linearRegressionName, X, y)
	if err != nil {
		return err
	}
	if n < p {
		return errors.NewFitError(linearRegressionName, "fewer samples than features",
			errors.NewDimensionError(linearRegressionName+".Fit", p, n, 0))
	}

	xMean := make([]float64, p)
	yMean := 0.0
	if lr.fitIntercept {
		col := make([]float64, n)
		for j := 0; j < p; j++ {
			mat.Col(col, j, X)
			xMean[j] = floats.Sum(col) / float64(n)
		}
		yCol := make([]float64, n)
		mat.Col(yCol, 0, y)
		yMean = floats.Sum(yCol) / float64(n)
	}

	// 中心化（行数が多い場合は並列化）
	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	parallel.ParallelizeWithThreshold(n, parallel.DefaultThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < p; j++ {
				xc.Set(i, j, X.At(i, j)-xMean[j])
			}
			yc.SetVec(i, y.At(i, 0)-yMean)
		}
	})

	var qr mat.QR
	qr.Factorize(xc)

	var w mat.VecDense
	if err := qr.SolveVecTo(&w, false, yc); err != nil {
		return errors.NewFitError(linearRegressionName, "singular matrix",
			errors.CombineErrors(errors.ErrSingularMatrix, err))
	}

	lr.coef = make([]float64, p)
	for j := range lr.coef {
		lr.coef[j] = w.AtVec(j)
	}
	lr.intercept = yMean - floats.Dot(xMean, lr.coef)
	if err := errors.CheckNumericalStability(linearRegressionName+".Fit", lr.coef, -1); err != nil {
		return errors.NewFitError(linearRegressionName, "unstable solution", err)
	}

	lr.state.SetFitted(p, n)
	log.GetLogger().Debug("fit finished",
		log.ModelNameKey, linearRegressionName,
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.FeaturesKey, p,
	)
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	_, c := X.Dims()
	if err := lr.state.RequireFeatures(linearRegressionName, "Predict", c); err != nil {
		return nil, err
	}
	return predictLinear(X, lr.coef, lr.intercept), nil
}

// Score はモデルの決定係数（R²）を計算する
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	return score(lr, X, y)
}

// Coef は学習された係数のコピーを返す
func (lr *LinearRegression) Coef() []float64 {
	if lr.coef == nil {
		return nil
	}
	out := make([]float64, len(lr.coef))
	copy(out, lr.coef)
	return out
}

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept
}

// IsFitted returns whether the model has been fitted
func (lr *LinearRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// GetParams returns the hyperparameters using scikit-learn names.
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.fitIntercept,
	}
}

// ExportWeights はモデルの重みをエクスポート
func (lr *LinearRegression) ExportWeights() (*model.ModelWeights, error) {
	if err := lr.state.RequireFitted(linearRegressionName, "ExportWeights"); err != nil {
		return nil, err
	}
	nFeatures, nSamples := lr.state.Dimensions()
	mw := &model.ModelWeights{
		ModelType:       linearRegressionName,
		Version:         model.FormatVersion,
		Coefficients:    lr.Coef(),
		Intercept:       lr.intercept,
		IsFitted:        true,
		Hyperparameters: lr.GetParams(),
		Metadata: map[string]interface{}{
			"n_features": nFeatures,
			"n_samples":  nSamples,
		},
	}
	mw.Seal()
	return mw, nil
}

// ImportWeights はモデルの重みをインポート
func (lr *LinearRegression) ImportWeights(mw *model.ModelWeights) error {
	if mw == nil {
		return errors.NewValueError("LinearRegression.ImportWeights", "weights cannot be nil")
	}
	if mw.ModelType != linearRegressionName {
		return errors.NewValueError("LinearRegression.ImportWeights",
			fmt.Sprintf("model type mismatch: expected %s, got %s", linearRegressionName, mw.ModelType))
	}
	if err := mw.Validate(); err != nil {
		return err
	}
	if v, ok := mw.Hyperparameters["fit_intercept"].(bool); ok {
		lr.fitIntercept = v
	}
	lr.coef = make([]float64, len(mw.Coefficients))
	copy(lr.coef, mw.Coefficients)
	lr.intercept = mw.Intercept
	lr.state.SetFitted(len(lr.coef), intParam(mw.Metadata["n_samples"], 0))
	return nil
}

// String returns the string representation of the model
func (lr *LinearRegression) String() string {
	if !lr.IsFitted() {
		return "LinearRegression(fitted=false)"
	}
	return fmt.Sprintf("LinearRegression(fitted=true, n_features=%d)", len(lr.coef))
}
