package dataset

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

const wineHeader = `"fixed acidity";"volatile acidity";"citric acid";"residual sugar";"chlorides";"free sulfur dioxide";"total sulfur dioxide";"density";"pH";"sulphates";"alcohol";"quality"`

// wineCSV は本物のデータと同じ形式の n 行の CSV を作る
func wineCSV(n int) string {
	var b strings.Builder
	b.WriteString(wineHeader + "\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%.1f;0.7;0;1.9;0.076;11;34;0.9978;3.51;0.56;%.1f;%d\n",
			7.0+float64(i%5)/10, 9.0+float64(i%7)/2, 5+i%3)
	}
	return b.String()
}

func TestReadCSV(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(wineCSV(4)), DefaultSeparator)
	require.NoError(t, err)

	rows, cols := table.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 12, cols)
	assert.Equal(t, "fixed acidity", table.Header[0])
	assert.Equal(t, 11, table.ColumnIndex("quality"))
	assert.Equal(t, -1, table.ColumnIndex("colour"))
	assert.Equal(t, []float64{7.1, 0.7, 0, 1.9, 0.076, 11, 34, 0.9978, 3.51, 0.56, 9.5, 6}, table.Row(1))
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		sep   rune
	}{
		{name: "empty input", input: "", sep: ';'},
		{name: "header only", input: wineHeader + "\n", sep: ';'},
		{name: "wrong separator", input: wineCSV(3), sep: ','},
		{name: "non-numeric cell", input: "a;b\n1;x\n", sep: ';'},
		{name: "ragged row", input: "a;b\n1;2\n3\n", sep: ';'},
		{name: "html error page", input: "<html><body>Not Found</body></html>\n", sep: ';'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input), tt.sep)
			require.Error(t, err)

			var du *errors.DataUnavailableError
			assert.True(t, errors.As(err, &du), "want DataUnavailableError, got %v", err)
		})
	}
}

func TestLoaderHTTP(t *testing.T) {
	var gotAccept atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept.Store(r.Header.Get(headers.Accept))
		fmt.Fprint(w, wineCSV(10))
	}))
	defer srv.Close()

	table, err := NewLoader(srv.URL).Load(context.Background())
	require.NoError(t, err)

	rows, _ := table.Dims()
	assert.Equal(t, 10, rows)
	assert.Contains(t, gotAccept.Load(), "text/csv")
}

func TestLoaderFailures(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewLoader(srv.URL).Load(context.Background())
		var du *errors.DataUnavailableError
		require.True(t, errors.As(err, &du))
		assert.Equal(t, srv.URL, du.Source)
		assert.Contains(t, du.Error(), "404")
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		_, err := NewLoader(srv.URL, WithTimeout(50*time.Millisecond)).Load(context.Background())
		var du *errors.DataUnavailableError
		assert.True(t, errors.As(err, &du))
	})

	t.Run("oversized body", func(t *testing.T) {
		body := wineCSV(20)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		defer srv.Close()

		// 行の境界で切れても黙って短いデータを返さない
		l := NewLoader(srv.URL)
		l.maxBody = int64(strings.Index(body, "\n") + 1)
		_, err := l.Load(context.Background())
		var du *errors.DataUnavailableError
		require.True(t, errors.As(err, &du), "got %v", err)
		assert.Contains(t, du.Error(), "exceeds")

		l.maxBody = int64(len(body))
		table, err := l.Load(context.Background())
		require.NoError(t, err)
		rows, _ := table.Dims()
		assert.Equal(t, 20, rows)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader(filepath.Join(t.TempDir(), "nope.csv")).Load(context.Background())
		var du *errors.DataUnavailableError
		assert.True(t, errors.As(err, &du))
	})
}

func TestLoaderLocalSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wine.csv")
	require.NoError(t, os.WriteFile(path, []byte(wineCSV(6)), 0o644))

	for _, source := range []string{path, "file://" + path} {
		t.Run(source, func(t *testing.T) {
			table, err := NewLoader(source).Load(context.Background())
			require.NoError(t, err)
			rows, _ := table.Dims()
			assert.Equal(t, 6, rows)
		})
	}
}

func TestLoaderCacheFallback(t *testing.T) {
	testLogger, _ := log.NewTestLogger(log.LevelDebug)
	prev := log.SetLogger(testLogger)
	defer log.SetLogger(prev)

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, wineCSV(8))
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "cache", "winequality-red.csv")
	loader := NewLoader(srv.URL, WithCachePath(cache))

	_, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.FileExists(t, cache)

	healthy.Store(false)
	table, err := loader.Load(context.Background())
	require.NoError(t, err, "should fall back to the cached copy")
	rows, _ := table.Dims()
	assert.Equal(t, 8, rows)
	assert.True(t, testLogger.ContainsMessage("dataset download failed, using cached copy"))

	t.Run("no cache propagates the error", func(t *testing.T) {
		_, err := NewLoader(srv.URL, WithCachePath(filepath.Join(t.TempDir(), "absent.csv"))).Load(context.Background())
		var du *errors.DataUnavailableError
		assert.True(t, errors.As(err, &du))
	})
}

func TestTrainTestSplit(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(wineCSV(20)), DefaultSeparator)
	require.NoError(t, err)

	s, err := TrainTestSplit(table, DefaultTarget, DefaultTestSize, 40)
	require.NoError(t, err)

	// ceil(0.25 * 20) = 5
	assert.Len(t, s.TestIndex, 5)
	assert.Len(t, s.TrainIndex, 15)
	assert.Len(t, s.FeatureNames, 11)
	assert.NotContains(t, s.FeatureNames, "quality")

	r, c := s.XTrain.Dims()
	assert.Equal(t, 15, r)
	assert.Equal(t, 11, c)
	assert.Equal(t, 5, s.YTest.Len())

	all := append(append([]int(nil), s.TrainIndex...), s.TestIndex...)
	sort.Ints(all)
	for i, v := range all {
		assert.Equal(t, i, v, "train and test must partition the rows")
	}

	// 目的変数と特徴量が元の行と対応していること
	for i, row := range s.TestIndex {
		assert.Equal(t, table.Data.At(row, 11), s.YTest.AtVec(i))
		assert.Equal(t, table.Data.At(row, 0), s.XTest.At(i, 0))
	}

	again, err := TrainTestSplit(table, DefaultTarget, DefaultTestSize, 40)
	require.NoError(t, err)
	assert.Equal(t, s.TestIndex, again.TestIndex)

	other, err := TrainTestSplit(table, DefaultTarget, DefaultTestSize, 41)
	require.NoError(t, err)
	assert.NotEqual(t, s.TestIndex, other.TestIndex)
}

func TestTrainTestSplitErrors(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(wineCSV(3)), DefaultSeparator)
	require.NoError(t, err)
	single, err := ReadCSV(strings.NewReader(wineCSV(1)), DefaultSeparator)
	require.NoError(t, err)

	tests := []struct {
		name     string
		table    *Table
		target   string
		testSize float64
	}{
		{name: "nil table", table: nil, target: DefaultTarget, testSize: 0.25},
		{name: "unknown target", table: table, target: "colour", testSize: 0.25},
		{name: "zero test size", table: table, target: DefaultTarget, testSize: 0},
		{name: "test size one", table: table, target: DefaultTarget, testSize: 1},
		{name: "single row", table: single, target: DefaultTarget, testSize: 0.25},
		{name: "empty train side", table: table, target: DefaultTarget, testSize: 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TrainTestSplit(tt.table, tt.target, tt.testSize, 40)
			assert.Error(t, err)
		})
	}
}
