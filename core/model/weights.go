package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/YuminosukeSato/winequality/pkg/errors"
)

// FormatVersion is written into every exported ModelWeights.
const FormatVersion = "1.0.0"

// ModelWeights はモデルの重みを表す構造体（シリアライゼーション用）
// 実験トラッキングのモデル成果物 model.json の中身そのもの
type ModelWeights struct {
	// ModelType はモデルの種類（ElasticNet, LinearRegression）
	ModelType string `json:"model_type"`

	// Version はフォーマットのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Coefficients は重み係数
	Coefficients []float64 `json:"coefficients"`

	// Intercept は切片
	Intercept float64 `json:"intercept"`

	// Features は特徴量の名前（オプション）
	Features []string `json:"features,omitempty"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は学習時の統計など（n_features, n_iter, checksum）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// Checksum returns the SHA-256 of the JSON-encoded coefficients and intercept.
func Checksum(coef []float64, intercept float64) string {
	data := make([]float64, 0, len(coef)+1)
	data = append(data, coef...)
	data = append(data, intercept)
	raw, _ := json.Marshal(data)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Seal stores the checksum of the current coefficients in Metadata.
func (mw *ModelWeights) Seal() {
	if mw.Metadata == nil {
		mw.Metadata = make(map[string]interface{})
	}
	mw.Metadata["checksum"] = Checksum(mw.Coefficients, mw.Intercept)
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", mw.ModelType)
	}
	if mw.Version == "" {
		return errors.NewValidationError("version", "is required", mw.Version)
	}
	if !mw.IsFitted && len(mw.Coefficients) > 0 {
		return errors.NewValueError("ModelWeights.Validate", "unfitted model should not have coefficients")
	}
	if mw.IsFitted && len(mw.Coefficients) == 0 {
		return errors.NewValueError("ModelWeights.Validate", "fitted model must have coefficients")
	}
	if want, ok := mw.Metadata["checksum"].(string); ok {
		if want != Checksum(mw.Coefficients, mw.Intercept) {
			return errors.NewValueError("ModelWeights.Validate", "checksum mismatch: weights may be corrupted")
		}
	}
	return nil
}

// Encode writes the weights as indented JSON.
func (mw *ModelWeights) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(mw); err != nil {
		return errors.Wrap(err, "failed to encode model weights")
	}
	return nil
}

// DecodeWeights reads and validates weights written by Encode.
func DecodeWeights(r io.Reader) (*ModelWeights, error) {
	var mw ModelWeights
	if err := json.NewDecoder(r).Decode(&mw); err != nil {
		return nil, errors.Wrap(err, "failed to decode model weights")
	}
	if err := mw.Validate(); err != nil {
		return nil, err
	}
	return &mw, nil
}
