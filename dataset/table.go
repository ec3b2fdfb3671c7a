// Package dataset はワイン品質データの取得・解析・分割を提供する
package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/winequality/pkg/errors"
)

// DefaultSeparator is the field delimiter of the wine-quality CSV files.
const DefaultSeparator = ';'

// Table は見出し付きの数値表
// Header の長さと Data の列数は常に一致する
type Table struct {
	Header []string
	Data   *mat.Dense
}

// Dims returns the number of rows and columns.
func (t *Table) Dims() (int, int) {
	return t.Data.Dims()
}

// ColumnIndex returns the position of name in the header, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []float64 {
	return mat.Row(nil, i, t.Data)
}

// ReadCSV parses delimited text with a header line. Every data cell must be
// a number. Input that yields a single column is rejected, which catches a
// wrong separator.
func ReadCSV(r io.Reader, sep rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	rec, err := cr.Read()
	if err == io.EOF {
		return nil, errors.NewDataUnavailableError("csv", "no header line", errors.ErrEmptyData)
	}
	if err != nil {
		return nil, errors.NewDataUnavailableError("csv", "malformed header", err)
	}
	header := make([]string, len(rec))
	for i, h := range rec {
		header[i] = strings.TrimSpace(h)
	}
	if len(header) < 2 {
		return nil, errors.NewDataUnavailableError("csv",
			"only one column found; is the separator "+strconv.QuoteRune(sep)+" correct?", nil)
	}

	var values []float64
	rows := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewDataUnavailableError("csv", "malformed record", err)
		}
		rows++
		for j, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, errors.NewDataUnavailableError("csv",
					"non-numeric value in column "+strconv.Quote(header[j])+" at line "+strconv.Itoa(rows+1), err)
			}
			values = append(values, v)
		}
	}
	if rows == 0 {
		return nil, errors.NewDataUnavailableError("csv", "no data rows", errors.ErrEmptyData)
	}

	return &Table{Header: header, Data: mat.NewDense(rows, len(header), values)}, nil
}
