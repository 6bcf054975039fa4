package core

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ConfidenceKind tags which confidence representation a Prediction carries.
type ConfidenceKind int

const (
	ConfidenceUnknown ConfidenceKind = iota
	ConfidenceVector
	ConfidenceScalar
)

func (k ConfidenceKind) String() string {
	switch k {
	case ConfidenceVector:
		return "vector"
	case ConfidenceScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// Prediction is the normalized classifier output. Exactly one of the
// constructors below should be used to build one so that the kind and the
// populated fields always agree.
type Prediction struct {
	Classification string

	kind   ConfidenceKind
	vector []float64
	score  float64
}

func VectorPrediction(classification string, probabilities []float64) Prediction {
	return Prediction{
		Classification: classification,
		kind:           ConfidenceVector,
		vector:         slices.Clone(probabilities),
	}
}

func ScalarPrediction(classification string, score float64) Prediction {
	return Prediction{
		Classification: classification,
		kind:           ConfidenceScalar,
		score:          score,
	}
}

func UnknownPrediction(classification string) Prediction {
	return Prediction{Classification: classification, kind: ConfidenceUnknown}
}

func (p Prediction) Kind() ConfidenceKind {
	return p.kind
}

// Vector returns a copy of the per-class probabilities, or nil when the
// prediction does not carry a vector.
func (p Prediction) Vector() []float64 {
	if p.kind != ConfidenceVector {
		return nil
	}
	return slices.Clone(p.vector)
}

// Confidence is the confidence of the predicted class: max(vector) for
// vector predictions, the scalar for scalar predictions. ok is false when the
// classifier reported neither.
func (p Prediction) Confidence() (float64, bool) {
	switch p.kind {
	case ConfidenceVector:
		if len(p.vector) == 0 {
			return 0, false
		}
		return slices.Max(p.vector), true
	case ConfidenceScalar:
		return p.score, true
	default:
		return 0, false
	}
}

// ConfidencePercent formats Confidence as "85.00%", or "N/A".
func (p Prediction) ConfidencePercent() string {
	c, ok := p.Confidence()
	if !ok {
		return "N/A"
	}
	return FormatPercent(c)
}

// ClassBreakdown pairs every probability of the vector with a label. Labels
// beyond the provided list are named "Class <n>".
func (p Prediction) ClassBreakdown(labels []string) []ClassProbability {
	if p.kind != ConfidenceVector {
		return nil
	}
	out := make([]ClassProbability, 0, len(p.vector))
	for i, prob := range p.vector {
		label := fmt.Sprintf("Class %d", i+1)
		if i < len(labels) && labels[i] != "" {
			label = labels[i]
		}
		out = append(out, ClassProbability{Label: label, Probability: prob})
	}
	return out
}

type ClassProbability struct {
	Label       string
	Probability float64
}

func FormatPercent(probability float64) string {
	return fmt.Sprintf("%.2f%%", probability*100)
}

type predictionJSON struct {
	Classification   string    `json:"classification"`
	ConfidenceVector []float64 `json:"confidenceVector"`
	ConfidenceScore  *float64  `json:"confidenceScore,omitempty"`
}

// MarshalJSON writes the canonical stored form of a prediction. Vector
// predictions also carry their max as confidenceScore.
func (p Prediction) MarshalJSON() ([]byte, error) {
	out := predictionJSON{Classification: p.Classification, ConfidenceVector: []float64{}}
	if p.kind == ConfidenceVector {
		out.ConfidenceVector = p.vector
	}
	if c, ok := p.Confidence(); ok {
		out.ConfidenceScore = &c
	}
	return json.Marshal(out)
}

func (p *Prediction) UnmarshalJSON(data []byte) error {
	var in predictionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case len(in.ConfidenceVector) > 0:
		*p = VectorPrediction(in.Classification, in.ConfidenceVector)
	case in.ConfidenceScore != nil:
		*p = ScalarPrediction(in.Classification, *in.ConfidenceScore)
	default:
		*p = UnknownPrediction(in.Classification)
	}
	return nil
}
