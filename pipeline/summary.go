package pipeline

import (
	"fmt"
	"io"

	"github.com/YuminosukeSato/winequality/metrics"
)

// PrintSummary writes the four-line evaluation summary:
//
//	Elasticnet model (alpha=0.500000, l1_ratio=0.500000):
//	  RMSE: 0.7931640229276851
//	  MAE: 0.6271946374319586
//	  R2: 0.10862644997792614
func PrintSummary(w io.Writer, alpha, l1Ratio float64, r metrics.Report) error {
	_, err := fmt.Fprintf(w, "Elasticnet model (alpha=%f, l1_ratio=%f):\n  RMSE: %s\n  MAE: %s\n  R2: %s\n",
		alpha, l1Ratio,
		metrics.FormatValue(r.RMSE),
		metrics.FormatValue(r.MAE),
		metrics.FormatValue(r.R2),
	)
	return err
}
