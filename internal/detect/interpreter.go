package detect

import (
	"math"
	"strconv"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
)

// Classification is the top class of one score vector.
type Classification struct {
	Index int
	Label string
	// Confidence is the top probability rounded to 4 decimal places.
	Confidence    float64
	Probabilities []float64
}

// LabelFunc maps a class index to its label.
type LabelFunc func(idx int) (string, bool)

// Interpret applies softmax to scores and picks the most probable class.
// Ties go to the lowest index. An index without a label is reported by its
// decimal string.
func Interpret(scores []float32, label LabelFunc) (Classification, error) {
	if len(scores) == 0 {
		return Classification{}, apperr.New(apperr.KindInference, "detect.Interpret", "empty score vector")
	}

	probs := Softmax(scores)
	best := 0
	for i, p := range probs {
		if math.IsNaN(p) {
			return Classification{}, apperr.New(apperr.KindInference, "detect.Interpret", "non-finite scores")
		}
		if p > probs[best] {
			best = i
		}
	}

	name, ok := label(best)
	if !ok {
		name = strconv.Itoa(best)
	}

	return Classification{
		Index:         best,
		Label:         name,
		Confidence:    Round4(probs[best]),
		Probabilities: probs,
	}, nil
}

// Softmax returns exp(x_i - max) / sum, computed in float64.
func Softmax(scores []float32) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = math.Max(maxScore, float64(s))
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
