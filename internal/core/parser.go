package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// classifierOutput covers every shape the classifier scripts have emitted:
//
//	{"classification": "Lumpy", "confidence": [0.97, 0.03]}
//	{"classification": "Lumpy", "confidence": 0.97}
//	{"classification": "Lumpy", "prediction": [0.97, 0.03]}
//	{"prediction": {"classification": "Lumpy", "prediction": [...], "confidence_score": 0.97}, ...}
type classifierOutput struct {
	Classification  string          `json:"classification"`
	Confidence      json.RawMessage `json:"confidence"`
	ConfidenceScore *float64        `json:"confidence_score"`
	Probabilities   []float64       `json:"probabilities"`
	Prediction      json.RawMessage `json:"prediction"`
}

var errMissingClassification = errors.New("classifier output has no classification label")

// ParseClassifierOutput converts the classifier's stdout into a Prediction.
func ParseClassifierOutput(stdout []byte) (Prediction, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return Prediction{}, errors.New("classifier produced no output")
	}

	var out classifierOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return Prediction{}, fmt.Errorf("classifier output is not a JSON object: %w", err)
	}

	pred, err := normalizeOutput(out, 0)
	if err != nil {
		return Prediction{}, err
	}

	if pred.Classification == "" {
		return Prediction{}, errMissingClassification
	}

	return pred, nil
}

func normalizeOutput(out classifierOutput, depth int) (Prediction, error) {
	label := out.Classification

	vector, err := fromBareArray(out.Confidence)
	if err != nil {
		return Prediction{}, err
	}
	if vector == nil {
		if vector, err = fromNestedArray(out.Prediction); err != nil {
			return Prediction{}, err
		}
	}
	if vector == nil && len(out.Probabilities) > 0 {
		vector = out.Probabilities
	}

	score, hasScore, err := fromScalar(out.Confidence, out.ConfidenceScore)
	if err != nil {
		return Prediction{}, err
	}

	// The original scripts duplicated everything under an inner "prediction"
	// object. Only one level of nesting is accepted.
	if depth == 0 && isJSONObject(out.Prediction) {
		var inner classifierOutput
		if err := json.Unmarshal(out.Prediction, &inner); err != nil {
			return Prediction{}, fmt.Errorf("invalid nested prediction object: %w", err)
		}
		nested, err := normalizeOutput(inner, depth+1)
		if err != nil {
			return Prediction{}, err
		}
		if label == "" {
			label = nested.Classification
		}
		if vector == nil && nested.kind == ConfidenceVector {
			vector = nested.vector
		}
		if !hasScore && nested.kind == ConfidenceScalar {
			score, hasScore = nested.score, true
		}
	}

	switch {
	case vector != nil:
		if err := validateProbabilities(vector...); err != nil {
			return Prediction{}, err
		}
		return VectorPrediction(label, vector), nil
	case hasScore:
		if err := validateProbabilities(score); err != nil {
			return Prediction{}, err
		}
		return ScalarPrediction(label, score), nil
	default:
		return UnknownPrediction(label), nil
	}
}

// fromBareArray reads {"confidence": [..]}.
func fromBareArray(raw json.RawMessage) ([]float64, error) {
	if !isJSONArray(raw) {
		return nil, nil
	}
	var probs []float64
	if err := json.Unmarshal(raw, &probs); err != nil {
		return nil, fmt.Errorf("invalid confidence array: %w", err)
	}
	if len(probs) == 0 {
		return nil, nil
	}
	return probs, nil
}

// fromNestedArray reads {"prediction": [..]}.
func fromNestedArray(raw json.RawMessage) ([]float64, error) {
	if !isJSONArray(raw) {
		return nil, nil
	}
	var probs []float64
	if err := json.Unmarshal(raw, &probs); err != nil {
		return nil, fmt.Errorf("invalid prediction array: %w", err)
	}
	if len(probs) == 0 {
		return nil, nil
	}
	return probs, nil
}

// fromScalar reads {"confidence": 0.97} or {"confidence_score": 0.97}.
func fromScalar(confidence json.RawMessage, confidenceScore *float64) (float64, bool, error) {
	trimmed := bytes.TrimSpace(confidence)
	if len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')) {
		var v float64
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return 0, false, fmt.Errorf("invalid confidence value: %w", err)
		}
		return v, true, nil
	}
	if confidenceScore != nil {
		return *confidenceScore, true, nil
	}
	return 0, false, nil
}

func validateProbabilities(values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("confidence value %v is outside [0, 1]", v)
		}
	}
	return nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
