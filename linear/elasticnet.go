package linear

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/winequality/core/model"
	"github.com/YuminosukeSato/winequality/metrics"
	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

const elasticNetName = "ElasticNet"

// Coordinate selection strategies.
const (
	SelectionCyclic = "cyclic"
	SelectionRandom = "random"
)

// ElasticNet is a linear regressor with combined L1 and L2 priors, fitted by
// coordinate descent. It minimises
//
//	1/(2n) * ||y - Xw - b||^2 + alpha*l1_ratio*||w||_1 + 0.5*alpha*(1-l1_ratio)*||w||^2
//
// The defaults match scikit-learn's ElasticNet: alpha=1, l1_ratio=0.5,
// fit_intercept=true, max_iter=1000, tol=1e-4, cyclic selection.
type ElasticNet struct {
	state *model.StateManager

	// Hyperparameters
	alpha        float64
	l1Ratio      float64
	fitIntercept bool
	maxIter      int
	tol          float64
	selection    string
	randomState  uint64

	// Learned parameters
	coef      []float64
	intercept float64
	nIter     int
	dualGap   float64
	converged bool
}

// NewElasticNet creates an unfitted ElasticNet.
func NewElasticNet(opts ...Option) *ElasticNet {
	en := &ElasticNet{
		state:        model.NewStateManager(),
		alpha:        1.0,
		l1Ratio:      0.5,
		fitIntercept: true,
		maxIter:      1000,
		tol:          1e-4,
		selection:    SelectionCyclic,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

func (en *ElasticNet) validateParams() error {
	switch {
	case math.IsNaN(en.alpha) || en.alpha < 0:
		return errors.NewValidationError("alpha", "must be >= 0", en.alpha)
	case math.IsNaN(en.l1Ratio) || en.l1Ratio < 0 || en.l1Ratio > 1:
		return errors.NewValidationError("l1_ratio", "must be in [0, 1]", en.l1Ratio)
	case en.maxIter < 1:
		return errors.NewValidationError("max_iter", "must be >= 1", en.maxIter)
	case math.IsNaN(en.tol) || en.tol < 0:
		return errors.NewValidationError("tol", "must be >= 0", en.tol)
	case en.selection != SelectionCyclic && en.selection != SelectionRandom:
		return errors.NewValidationError("selection", "must be cyclic or random", en.selection)
	}
	return nil
}

// Fit trains the model on X (n×p) and y (n×1).
func (en *ElasticNet) Fit(X, y mat.Matrix) error {
	if err := en.validateParams(); err != nil {
		return errors.NewFitError(elasticNetName, "invalid hyperparameter", err)
	}
	n, p, err := validateFitInput(elasticNetName, X, y)
	if err != nil {
		return err
	}

	logger := log.GetLogger().With(log.ComponentKey, "linear", log.ModelNameKey, elasticNetName)
	logger.Debug("fit started",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.AlphaKey, en.alpha,
		log.L1RatioKey, en.l1Ratio,
	)

	// Column-major, centred copies of X and y.
	cols, xMean := centredColumns(X, n, p, en.fitIntercept)
	yc := make([]float64, n)
	for i := range yc {
		yc[i] = y.At(i, 0)
	}
	yMean := 0.0
	if en.fitIntercept {
		yMean = floats.Sum(yc) / float64(n)
		floats.AddConst(-yMean, yc)
	}

	w, nIter, gap, converged := en.coordinateDescent(cols, yc)
	if err := errors.CheckNumericalStability(elasticNetName+".Fit", w, nIter); err != nil {
		return errors.NewFitError(elasticNetName, "coefficients diverged", err)
	}
	if err := errors.CheckScalar(elasticNetName+".Fit", gap, nIter); err != nil {
		return errors.NewFitError(elasticNetName, "duality gap diverged", err)
	}

	en.coef = w
	en.intercept = yMean - floats.Dot(xMean, w)
	en.nIter = nIter
	en.dualGap = gap
	en.converged = converged
	en.state.SetFitted(p, n)

	if !converged {
		warning := errors.NewConvergenceWarning(elasticNetName, nIter,
			fmt.Sprintf("duality gap %.6g; consider increasing max_iter or scaling the data", gap))
		errors.Warn(warning)
	}

	logger.Debug("fit finished",
		log.OperationKey, log.OperationFit,
		log.IterationKey, nIter,
		log.DualGapKey, gap,
	)
	return nil
}

// centredColumns returns the columns of X as slices, with column means
// subtracted when centre is true, and the means themselves.
func centredColumns(X mat.Matrix, n, p int, centre bool) ([][]float64, []float64) {
	cols := make([][]float64, p)
	means := make([]float64, p)
	for j := 0; j < p; j++ {
		col := make([]float64, n)
		mat.Col(col, j, X)
		if centre {
			means[j] = floats.Sum(col) / float64(n)
			floats.AddConst(-means[j], col)
		}
		cols[j] = col
	}
	return cols, means
}

// coordinateDescent minimises the ElasticNet objective on centred data. The
// penalties are scaled by n so the updates work on raw sums of squares.
func (en *ElasticNet) coordinateDescent(cols [][]float64, y []float64) (w []float64, nIter int, gap float64, converged bool) {
	n := len(y)
	p := len(cols)
	l1Reg := en.alpha * en.l1Ratio * float64(n)
	l2Reg := en.alpha * (1 - en.l1Ratio) * float64(n)
	unpenalised := l1Reg == 0 && l2Reg == 0

	normSq := make([]float64, p)
	for j, col := range cols {
		normSq[j] = floats.Dot(col, col)
	}

	w = make([]float64, p)
	residual := make([]float64, n)
	copy(residual, y)

	gapTol := en.tol * floats.Dot(y, y)
	rng := rand.New(rand.NewPCG(en.randomState, en.randomState))

	for iter := 0; iter < en.maxIter; iter++ {
		var wMax, dwMax float64

		for k := 0; k < p; k++ {
			j := k
			if en.selection == SelectionRandom {
				j = rng.IntN(p)
			}
			if normSq[j] == 0 {
				continue
			}

			wj := w[j]
			if wj != 0 {
				floats.AddScaled(residual, wj, cols[j])
			}

			rho := floats.Dot(cols[j], residual)
			w[j] = softThreshold(rho, l1Reg) / (normSq[j] + l2Reg)

			if w[j] != 0 {
				floats.AddScaled(residual, -w[j], cols[j])
			}

			dwMax = math.Max(dwMax, math.Abs(w[j]-wj))
			wMax = math.Max(wMax, math.Abs(w[j]))
		}

		nIter = iter + 1
		small := wMax == 0 || dwMax/wMax <= en.tol
		if !small && iter != en.maxIter-1 {
			continue
		}

		if unpenalised {
			// The duality gap of plain least squares is the residual norm,
			// which only vanishes for a perfect fit.
			gap = 0.5 * floats.Dot(residual, residual)
			if small {
				return w, nIter, gap, true
			}
			continue
		}

		if l1Reg == 0 {
			gap = ridgeDualityGap(cols, y, residual, w, l2Reg)
		} else {
			gap = dualityGap(cols, y, residual, w, l1Reg, l2Reg)
		}
		if gap <= gapTol {
			return w, nIter, gap, true
		}
	}
	return w, nIter, gap, false
}

// dualityGap follows the bound used by scikit-learn's enet_coordinate_descent.
func dualityGap(cols [][]float64, y, residual, w []float64, l1Reg, l2Reg float64) float64 {
	dualNorm := 0.0
	for j, col := range cols {
		xta := floats.Dot(col, residual) - l2Reg*w[j]
		dualNorm = math.Max(dualNorm, math.Abs(xta))
	}

	rNorm2 := floats.Dot(residual, residual)
	wNorm2 := floats.Dot(w, w)

	var scale, gap float64
	if dualNorm > l1Reg {
		scale = l1Reg / dualNorm
		gap = 0.5 * (rNorm2 + rNorm2*scale*scale)
	} else {
		scale = 1
		gap = rNorm2
	}

	l1Norm := floats.Norm(w, 1)
	gap += l1Reg*l1Norm - scale*floats.Dot(residual, y) + 0.5*l2Reg*(1+scale*scale)*wNorm2
	return gap
}

// ridgeDualityGap is the gap for a pure L2 penalty, with the residual as
// the dual point. The rescaled bound above collapses to ½‖r‖² when l1Reg is
// 0 and never closes.
//
//	gap = ‖r‖² − r·y + ½·l2·‖w‖² + ‖Xᵀr‖² / (2·l2)
func ridgeDualityGap(cols [][]float64, y, residual, w []float64, l2Reg float64) float64 {
	xtr2 := 0.0
	for _, col := range cols {
		v := floats.Dot(col, residual)
		xtr2 += v * v
	}
	gap := floats.Dot(residual, residual) - floats.Dot(residual, y) +
		0.5*l2Reg*floats.Dot(w, w) + xtr2/(2*l2Reg)
	return math.Max(gap, 0)
}

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}

// Predict returns X·w + b as an n×1 matrix.
func (en *ElasticNet) Predict(X mat.Matrix) (mat.Matrix, error) {
	_, c := X.Dims()
	if err := en.state.RequireFeatures(elasticNetName, "Predict", c); err != nil {
		return nil, err
	}
	return predictLinear(X, en.coef, en.intercept), nil
}

// Score returns the coefficient of determination R² of the prediction.
func (en *ElasticNet) Score(X, y mat.Matrix) (float64, error) {
	return score(en, X, y)
}

func score(p model.Predictor, X, y mat.Matrix) (float64, error) {
	yPred, err := p.Predict(X)
	if err != nil {
		return 0, err
	}
	yTrue, err := metrics.ColumnVector(y)
	if err != nil {
		return 0, err
	}
	yHat, err := metrics.ColumnVector(yPred)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(yTrue, yHat)
}

// Coef returns a copy of the learned coefficients, nil before Fit.
func (en *ElasticNet) Coef() []float64 {
	if en.coef == nil {
		return nil
	}
	out := make([]float64, len(en.coef))
	copy(out, en.coef)
	return out
}

// Intercept returns the learned intercept.
func (en *ElasticNet) Intercept() float64 {
	return en.intercept
}

// NIterations returns the number of sweeps run by the last Fit.
func (en *ElasticNet) NIterations() int {
	return en.nIter
}

// DualGap returns the duality gap at the end of the last Fit.
func (en *ElasticNet) DualGap() float64 {
	return en.dualGap
}

// Converged reports whether the last Fit met the tolerance.
func (en *ElasticNet) Converged() bool {
	return en.converged
}

// IsFitted returns whether the model has been fitted
func (en *ElasticNet) IsFitted() bool {
	return en.state.IsFitted()
}

// GetParams returns the hyperparameters using scikit-learn names.
func (en *ElasticNet) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"alpha":         en.alpha,
		"l1_ratio":      en.l1Ratio,
		"fit_intercept": en.fitIntercept,
		"max_iter":      en.maxIter,
		"tol":           en.tol,
		"selection":     en.selection,
		"random_state":  en.randomState,
	}
}

// ExportWeights exports the fitted coefficients with a checksum.
func (en *ElasticNet) ExportWeights() (*model.ModelWeights, error) {
	if err := en.state.RequireFitted(elasticNetName, "ExportWeights"); err != nil {
		return nil, err
	}
	nFeatures, nSamples := en.state.Dimensions()
	mw := &model.ModelWeights{
		ModelType:       elasticNetName,
		Version:         model.FormatVersion,
		Coefficients:    en.Coef(),
		Intercept:       en.intercept,
		IsFitted:        true,
		Hyperparameters: en.GetParams(),
		Metadata: map[string]interface{}{
			"n_features": nFeatures,
			"n_samples":  nSamples,
			"n_iter":     en.nIter,
			"dual_gap":   en.dualGap,
		},
	}
	mw.Seal()
	return mw, nil
}

// ImportWeights restores a model exported by ExportWeights.
func (en *ElasticNet) ImportWeights(mw *model.ModelWeights) error {
	if mw == nil {
		return errors.NewValueError("ElasticNet.ImportWeights", "weights cannot be nil")
	}
	if mw.ModelType != elasticNetName {
		return errors.NewValueError("ElasticNet.ImportWeights",
			fmt.Sprintf("model type mismatch: expected %s, got %s", elasticNetName, mw.ModelType))
	}
	if err := mw.Validate(); err != nil {
		return err
	}

	hp := mw.Hyperparameters
	if v, ok := hp["alpha"].(float64); ok {
		en.alpha = v
	}
	if v, ok := hp["l1_ratio"].(float64); ok {
		en.l1Ratio = v
	}
	if v, ok := hp["fit_intercept"].(bool); ok {
		en.fitIntercept = v
	}
	if v, ok := hp["tol"].(float64); ok {
		en.tol = v
	}
	if v, ok := hp["selection"].(string); ok {
		en.selection = v
	}
	en.maxIter = intParam(hp["max_iter"], en.maxIter)
	en.randomState = uint64(intParam(hp["random_state"], int(en.randomState)))

	en.coef = make([]float64, len(mw.Coefficients))
	copy(en.coef, mw.Coefficients)
	en.intercept = mw.Intercept
	en.nIter = intParam(mw.Metadata["n_iter"], 0)
	en.state.SetFitted(len(en.coef), intParam(mw.Metadata["n_samples"], 0))
	return nil
}

// intParam accepts ints directly and float64 as produced by encoding/json.
func intParam(v interface{}, fallback int) int {
	switch x := v.(type) {
	case int:
		return x
	case uint64:
		return int(x)
	case float64:
		return int(x)
	default:
		return fallback
	}
}

// String returns the string representation of the model
func (en *ElasticNet) String() string {
	return fmt.Sprintf("ElasticNet(alpha=%g, l1_ratio=%g, fit_intercept=%t, max_iter=%d, tol=%g, selection=%s, random_state=%d)",
		en.alpha, en.l1Ratio, en.fitIntercept, en.maxIter, en.tol, en.selection, en.randomState)
}
