package reward

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultLabel = "banana"

// Places is the precision of every payout, in BAN.
const Places = 2

// Prediction is one label/probability pair returned by the classifier.
type Prediction struct {
	Label       string  `json:"className"`
	Probability float64 `json:"probability"`
}

// Compute scales maxReward by confidence and rounds half away from zero to two
// decimals. Confidence outside [0, 1] is clamped, so the result never
// exceeds maxReward.
func Compute(maxReward decimal.Decimal, confidence float64) decimal.Decimal {
	if math.IsNaN(confidence) || confidence <= 0 || maxReward.Sign() <= 0 {
		return decimal.Zero
	}
	if confidence > 1 {
		confidence = 1
	}
	amount := maxReward.Mul(decimal.NewFromFloat(confidence)).Round(Places)
	if amount.GreaterThan(maxReward) {
		return maxReward
	}
	return amount
}

// BananaConfidence returns the probability of the first prediction labelled
// label, wherever it appears in the list. ok is false when no such prediction
// carries a positive probability.
func BananaConfidence(predictions []Prediction, label string) (float64, bool) {
	if label == "" {
		label = DefaultLabel
	}
	for _, p := range predictions {
		if !strings.EqualFold(strings.TrimSpace(p.Label), label) {
			continue
		}
		if math.IsNaN(p.Probability) || p.Probability <= 0 {
			return 0, false
		}
		return p.Probability, true
	}
	return 0, false
}
