package linear

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/winequality/core/model"
	"github.com/YuminosukeSato/winequality/pkg/errors"
)

// makeRegression は y = Xw + b + noise の再現可能なデータを生成する
func makeRegression(n int, coef []float64, intercept, noise float64, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed))
	p := len(coef)
	X := mat.NewDense(n, p, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := intercept
		for j := 0; j < p; j++ {
			x := rng.NormFloat64()
			X.Set(i, j, x)
			v += coef[j] * x
		}
		y.Set(i, 0, v+noise*rng.NormFloat64())
	}
	return X, y
}

func TestElasticNetSingleFeatureClosedForm(t *testing.T) {
	X := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	y := mat.NewDense(5, 1, []float64{3, 5, 7, 9, 11})

	en := NewElasticNet(WithAlpha(0.5), WithL1Ratio(0.5))
	require.NoError(t, en.Fit(X, y))

	// 中心化後: x·y = 20, x·x = 10, l1 = l2 = 0.25 * n = 1.25
	// w = (20 - 1.25) / (10 + 1.25)
	assert.InDelta(t, 18.75/11.25, en.Coef()[0], 1e-12)
	assert.InDelta(t, 7-3*18.75/11.25, en.Intercept(), 1e-12)
	assert.True(t, en.Converged())
	assert.Equal(t, 2, en.NIterations())
}

func TestElasticNetAlphaZeroMatchesOLS(t *testing.T) {
	X, y := makeRegression(200, []float64{1.5, -2.0, 0.5, 3.0}, 4.0, 0.1, 7)

	en := NewElasticNet(WithAlpha(0), WithTol(1e-12), WithMaxIter(10000))
	require.NoError(t, en.Fit(X, y))

	ols := NewLinearRegression()
	require.NoError(t, ols.Fit(X, y))

	assert.True(t, en.Converged())
	assert.InDeltaSlice(t, ols.Coef(), en.Coef(), 1e-8)
	assert.InDelta(t, ols.Intercept(), en.Intercept(), 1e-8)
}

func TestElasticNetLassoSparsity(t *testing.T) {
	X, y := makeRegression(100, []float64{1.0, 0.5}, 2.0, 0.1, 3)

	t.Run("large alpha zeroes every coefficient", func(t *testing.T) {
		en := NewElasticNet(WithAlpha(100), WithL1Ratio(1))
		require.NoError(t, en.Fit(X, y))

		for j, c := range en.Coef() {
			assert.Equal(t, 0.0, c, "coef[%d]", j)
		}
		col := mat.Col(nil, 0, y)
		mean := 0.0
		for _, v := range col {
			mean += v
		}
		mean /= float64(len(col))
		assert.InDelta(t, mean, en.Intercept(), 1e-12)
		assert.Equal(t, 1, en.NIterations())
	})

	t.Run("irrelevant feature is dropped", func(t *testing.T) {
		Xw, yw := makeRegression(300, []float64{3.0, 0.0, -2.0}, 1.0, 0.05, 11)
		en := NewElasticNet(WithAlpha(0.1), WithL1Ratio(1))
		require.NoError(t, en.Fit(Xw, yw))

		coef := en.Coef()
		assert.Equal(t, 0.0, coef[1])
		assert.InDelta(t, 2.9, coef[0], 0.1)
		assert.InDelta(t, -1.9, coef[2], 0.1)
	})
}

func TestElasticNetShrinksTowardsZero(t *testing.T) {
	X, y := makeRegression(150, []float64{2.0, -1.0, 0.5}, 0, 0.1, 5)

	weak := NewElasticNet(WithAlpha(0.01))
	strong := NewElasticNet(WithAlpha(0.5))
	require.NoError(t, weak.Fit(X, y))
	require.NoError(t, strong.Fit(X, y))

	l1 := func(c []float64) float64 {
		s := 0.0
		for _, v := range c {
			s += math.Abs(v)
		}
		return s
	}
	assert.Less(t, l1(strong.Coef()), l1(weak.Coef()))
}

func TestElasticNetDeterministic(t *testing.T) {
	X, y := makeRegression(120, []float64{1.0, 2.0, -1.0, 0.0, 0.3}, 5.0, 0.5, 9)

	for _, selection := range []string{SelectionCyclic, SelectionRandom} {
		t.Run(selection, func(t *testing.T) {
			a := NewElasticNet(WithAlpha(0.05), WithSelection(selection), WithRandomState(42))
			b := NewElasticNet(WithAlpha(0.05), WithSelection(selection), WithRandomState(42))
			require.NoError(t, a.Fit(X, y))
			require.NoError(t, b.Fit(X, y))

			assert.Equal(t, a.Coef(), b.Coef())
			assert.Equal(t, a.Intercept(), b.Intercept())
			assert.Equal(t, a.NIterations(), b.NIterations())
		})
	}

	t.Run("random selection reaches the cyclic solution", func(t *testing.T) {
		cyc := NewElasticNet(WithAlpha(0.05), WithTol(1e-10), WithMaxIter(5000))
		rnd := NewElasticNet(WithAlpha(0.05), WithTol(1e-10), WithMaxIter(5000),
			WithSelection(SelectionRandom), WithRandomState(7))
		require.NoError(t, cyc.Fit(X, y))
		require.NoError(t, rnd.Fit(X, y))

		assert.InDeltaSlice(t, cyc.Coef(), rnd.Coef(), 1e-3)
	})
}

func TestElasticNetRidgeConverges(t *testing.T) {
	var warnings []error
	prev := errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(prev)

	const n, alpha = 100, 1.0
	X, y := makeRegression(n, []float64{2.0, -1.0, 0.5}, 1.0, 0.3, 21)

	en := NewElasticNet(WithAlpha(alpha), WithL1Ratio(0), WithTol(1e-10), WithMaxIter(100000))
	require.NoError(t, en.Fit(X, y))

	assert.True(t, en.Converged())
	assert.Less(t, en.NIterations(), 1000)
	assert.Empty(t, warnings)

	// 閉形式: w = (XcᵀXc + αn·I)⁻¹ Xcᵀyc
	_, p := X.Dims()
	Xc := mat.DenseCopyOf(X)
	yc := mat.VecDenseCopyOf(y.ColView(0))
	for j := 0; j < p; j++ {
		col := Xc.ColView(j)
		mean := mat.Sum(col) / n
		for i := 0; i < n; i++ {
			Xc.Set(i, j, Xc.At(i, j)-mean)
		}
	}
	yMean := mat.Sum(yc) / n
	for i := 0; i < n; i++ {
		yc.SetVec(i, yc.AtVec(i)-yMean)
	}
	var gram mat.Dense
	gram.Mul(Xc.T(), Xc)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+alpha*n)
	}
	var xty, want mat.VecDense
	xty.MulVec(Xc.T(), yc)
	require.NoError(t, want.SolveVec(&gram, &xty))

	assert.InDeltaSlice(t, want.RawVector().Data, en.Coef(), 1e-4)
}

func TestElasticNetConvergenceWarning(t *testing.T) {
	var warnings []error
	prev := errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(prev)

	X, y := makeRegression(50, []float64{1.0, 1.0, 1.0}, 0, 0.5, 13)
	en := NewElasticNet(WithAlpha(0.01), WithMaxIter(1), WithTol(0))

	require.NoError(t, en.Fit(X, y), "non-convergence must not be an error")
	assert.False(t, en.Converged())
	assert.True(t, en.IsFitted())
	assert.Equal(t, 1, en.NIterations())
	require.Len(t, warnings, 1)

	var cw *errors.ConvergenceWarning
	require.True(t, errors.As(warnings[0], &cw))
	assert.Equal(t, "ElasticNet", cw.Algorithm)
	assert.Equal(t, 1, cw.Iterations)
}

func TestElasticNetFitErrors(t *testing.T) {
	X, y := makeRegression(10, []float64{1.0, 2.0}, 0, 0, 1)

	nanX := mat.DenseCopyOf(X)
	nanX.Set(3, 1, math.NaN())
	infY := mat.DenseCopyOf(y)
	infY.Set(0, 0, math.Inf(1))

	tests := []struct {
		name string
		opts []Option
		X, y mat.Matrix
	}{
		{name: "empty data", X: &mat.Dense{}, y: &mat.Dense{}},
		{name: "row mismatch", X: X, y: mat.NewDense(9, 1, nil)},
		{name: "y with two columns", X: X, y: mat.NewDense(10, 2, nil)},
		{name: "NaN in X", X: nanX, y: y},
		{name: "Inf in y", X: X, y: infY},
		{name: "negative alpha", opts: []Option{WithAlpha(-0.1)}, X: X, y: y},
		{name: "l1_ratio above one", opts: []Option{WithL1Ratio(1.5)}, X: X, y: y},
		{name: "l1_ratio below zero", opts: []Option{WithL1Ratio(-0.5)}, X: X, y: y},
		{name: "max_iter zero", opts: []Option{WithMaxIter(0)}, X: X, y: y},
		{name: "unknown selection", opts: []Option{WithSelection("shuffle")}, X: X, y: y},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			en := NewElasticNet(tt.opts...)
			err := en.Fit(tt.X, tt.y)
			require.Error(t, err)

			var fitErr *errors.FitError
			assert.True(t, errors.As(err, &fitErr), "want FitError, got %T: %v", err, err)
			assert.False(t, en.IsFitted())
		})
	}
}

func TestElasticNetPredict(t *testing.T) {
	X, y := makeRegression(80, []float64{2.0, -3.0}, 1.0, 0.01, 21)
	en := NewElasticNet(WithAlpha(0.001))

	_, err := en.Predict(X)
	var nfErr *errors.NotFittedError
	require.True(t, errors.As(err, &nfErr))

	require.NoError(t, en.Fit(X, y))

	pred, err := en.Predict(X)
	require.NoError(t, err)
	r, c := pred.Dims()
	assert.Equal(t, 80, r)
	assert.Equal(t, 1, c)

	score, err := en.Score(X, y)
	require.NoError(t, err)
	assert.Greater(t, score, 0.99)

	_, err = en.Predict(mat.NewDense(2, 3, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestElasticNetWeightsRoundTrip(t *testing.T) {
	X, y := makeRegression(60, []float64{0.7, -0.2, 1.1}, 3.0, 0.2, 17)
	en := NewElasticNet(WithAlpha(0.5), WithL1Ratio(0.5), WithRandomState(42))
	require.NoError(t, en.Fit(X, y))

	weights, err := en.ExportWeights()
	require.NoError(t, err)
	assert.Equal(t, "ElasticNet", weights.ModelType)
	assert.Equal(t, model.Checksum(en.Coef(), en.Intercept()), weights.Metadata["checksum"])

	var buf bytes.Buffer
	require.NoError(t, weights.Encode(&buf))
	loaded, err := model.DecodeWeights(&buf)
	require.NoError(t, err)

	restored := NewElasticNet()
	require.NoError(t, restored.ImportWeights(loaded))

	assert.Equal(t, en.Coef(), restored.Coef())
	assert.Equal(t, en.Intercept(), restored.Intercept())
	assert.Equal(t, en.GetParams(), restored.GetParams())

	p1, err := en.Predict(X)
	require.NoError(t, err)
	p2, err := restored.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(p1, p2))

	t.Run("wrong model type", func(t *testing.T) {
		other := *loaded
		other.ModelType = "LinearRegression"
		assert.Error(t, NewElasticNet().ImportWeights(&other))
	})

	t.Run("tampered coefficients", func(t *testing.T) {
		other := *loaded
		other.Coefficients = append([]float64(nil), loaded.Coefficients...)
		other.Coefficients[0] += 1
		assert.Error(t, NewElasticNet().ImportWeights(&other))
	})
}

func TestElasticNetGetParams(t *testing.T) {
	en := NewElasticNet(WithAlpha(0.5), WithRandomState(42))
	params := en.GetParams()

	assert.Equal(t, 0.5, params["alpha"])
	assert.Equal(t, 0.5, params["l1_ratio"])
	assert.Equal(t, true, params["fit_intercept"])
	assert.Equal(t, 1000, params["max_iter"])
	assert.Equal(t, 1e-4, params["tol"])
	assert.Equal(t, SelectionCyclic, params["selection"])
	assert.Equal(t, uint64(42), params["random_state"])
	assert.Contains(t, en.String(), "alpha=0.5")
}
