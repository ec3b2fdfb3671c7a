package linear

// Option configures an ElasticNet.
type Option func(*ElasticNet)

// WithAlpha sets the constant that multiplies the penalty terms.
// alpha = 0 is equivalent to ordinary least squares.
func WithAlpha(alpha float64) Option {
	return func(en *ElasticNet) {
		en.alpha = alpha
	}
}

// WithL1Ratio sets the ElasticNet mixing parameter, 0 <= l1_ratio <= 1.
// l1_ratio = 1 is the lasso penalty, l1_ratio = 0 is an L2 penalty.
func WithL1Ratio(l1Ratio float64) Option {
	return func(en *ElasticNet) {
		en.l1Ratio = l1Ratio
	}
}

// WithFitIntercept sets whether to calculate the intercept
func WithFitIntercept(fit bool) Option {
	return func(en *ElasticNet) {
		en.fitIntercept = fit
	}
}

// WithMaxIter sets the maximum number of coordinate descent sweeps
func WithMaxIter(n int) Option {
	return func(en *ElasticNet) {
		en.maxIter = n
	}
}

// WithTol sets the tolerance for the optimization
func WithTol(tol float64) Option {
	return func(en *ElasticNet) {
		en.tol = tol
	}
}

// WithSelection sets the coordinate update order: SelectionCyclic or
// SelectionRandom.
func WithSelection(selection string) Option {
	return func(en *ElasticNet) {
		en.selection = selection
	}
}

// WithRandomState seeds the generator that picks coordinates when
// selection is SelectionRandom. With cyclic selection the seed is recorded
// but has no effect on the solution.
func WithRandomState(seed uint64) Option {
	return func(en *ElasticNet) {
		en.randomState = seed
	}
}

// LinearRegressionOption configures a LinearRegression.
type LinearRegressionOption func(*LinearRegression)

// WithLRFitIntercept sets whether LinearRegression calculates the intercept
func WithLRFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.fitIntercept = fit
	}
}
