package dataset

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

// DefaultTarget is the column predicted by the model.
const DefaultTarget = "quality"

// DefaultTestSize is the held-out fraction used when none is given.
const DefaultTestSize = 0.25

// Split は学習用と評価用に分割されたデータ
// TrainIndex と TestIndex は元の Table の行番号で、互いに素かつ合わせて全行を覆う
type Split struct {
	FeatureNames []string
	Target       string

	XTrain *mat.Dense
	YTrain *mat.VecDense
	XTest  *mat.Dense
	YTest  *mat.VecDense

	TrainIndex []int
	TestIndex  []int
}

// TrainTestSplit shuffles the rows of t with a generator seeded by seed and
// holds out ceil(testSize*n) of them for testing. The target column is
// separated from the features. The same table and seed always give the
// same partition.
func TrainTestSplit(t *Table, target string, testSize float64, seed uint64) (*Split, error) {
	if t == nil || t.Data == nil {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	n, cols := t.Dims()
	if n < 2 {
		return nil, errors.NewValidationError("n_samples", "at least 2 rows are required to split", n)
	}
	if math.IsNaN(testSize) || testSize <= 0 || testSize >= 1 {
		return nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	targetCol := t.ColumnIndex(target)
	if targetCol < 0 {
		return nil, errors.NewValidationError("target", "column not found in header", target)
	}
	if cols < 2 {
		return nil, errors.NewValidationError("n_features", "no feature columns besides the target", cols-1)
	}

	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, errors.NewValueError("TrainTestSplit",
			"the resulting train or test set would be empty; adjust test_size")
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)

	features := make([]string, 0, cols-1)
	for j, h := range t.Header {
		if j != targetCol {
			features = append(features, h)
		}
	}

	s := &Split{
		FeatureNames: features,
		Target:       target,
		TestIndex:    append([]int(nil), perm[:nTest]...),
		TrainIndex:   append([]int(nil), perm[nTest:]...),
	}
	s.XTrain, s.YTrain = gather(t.Data, s.TrainIndex, targetCol)
	s.XTest, s.YTest = gather(t.Data, s.TestIndex, targetCol)

	log.GetLogger().Debug("dataset split",
		log.ComponentKey, "dataset",
		log.OperationKey, log.OperationSplit,
		log.TrainSamplesKey, nTrain,
		log.TestSamplesKey, nTest,
		log.RandomSeedKey, seed,
	)
	return s, nil
}

// gather copies the given rows, dropping targetCol into its own vector.
func gather(data *mat.Dense, rows []int, targetCol int) (*mat.Dense, *mat.VecDense) {
	_, cols := data.Dims()
	X := mat.NewDense(len(rows), cols-1, nil)
	y := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		k := 0
		for j := 0; j < cols; j++ {
			if j == targetCol {
				y.SetVec(i, data.At(r, j))
				continue
			}
			X.Set(i, k, data.At(r, j))
			k++
		}
	}
	return X, y
}
