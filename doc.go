// Package winequality trains an ElasticNet regressor on the red wine quality
// dataset, evaluates it on a held-out split and records the run in an
// MLflow-compatible file store.
//
// # Installation
//
//	go install github.com/YuminosukeSato/winequality/cmd/winequality@latest
//
// # Quick Start
//
// Train with the default penalty (alpha=0.5, l1_ratio=0.5):
//
//	$ winequality
//	Elasticnet model (alpha=0.500000, l1_ratio=0.500000):
//	  RMSE: 0.7931640229276851
//	  MAE: 0.6271946374319586
//	  R2: 0.10862644997792614
//
// alpha and l1_ratio can be given as positional arguments:
//
//	$ winequality 0.1 0.9 --plot --tracking-uri /data/mlruns
//
// The model can also be used as a library:
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/winequality/linear"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
//	    y := mat.NewDense(4, 1, []float64{2, 4, 6, 8})
//
//	    en := linear.NewElasticNet(linear.WithAlpha(0.1), linear.WithL1Ratio(0.5))
//	    if err := en.Fit(X, y); err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(en.Coef(), en.Intercept())
//	}
//
// # Packages
//
//   - linear: ElasticNet (coordinate descent) and LinearRegression
//   - metrics: RMSE, MAE, R² and the evaluation report
//   - dataset: CSV loading over HTTP or from disk, train/test split
//   - tracking: MLflow file store (runs, params, metrics, artifacts, models)
//   - pipeline: the end-to-end training job
//   - config: viper-backed settings with WINEQ_* environment variables
//   - core/model: model interfaces, fitted state and exported weights
//   - core/parallel: parallel processing utilities
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Tracking Store
//
// Runs are written under ./mlruns by default, in the layout the MLflow UI
// reads (mlflow ui --backend-store-uri ./mlruns). Artifacts can be sent to
// S3 or MinIO by setting --artifact-root s3://bucket/prefix together with
// MLFLOW_S3_ENDPOINT_URL and the AWS_* credentials.
package winequality
