package api

import (
	"encoding/json"
	"log/slog"

	"vderm-backend/internal/core"
	"vderm-backend/internal/database"
	"vderm-backend/pkg/api"
)

func convertPrediction(p core.Prediction) api.Prediction {
	out := api.Prediction{
		Classification:   p.Classification,
		ConfidenceVector: p.Vector(),
		Confidence:       p.ConfidencePercent(),
	}
	if out.ConfidenceVector == nil {
		out.ConfidenceVector = []float64{}
	}
	if p.Kind() == core.ConfidenceScalar {
		score, _ := p.Confidence()
		out.ConfidenceScore = &score
	}
	return out
}

func convertDiagnosis(d database.Diagnosis, classLabels []string) api.Diagnosis {
	pred, err := d.Prediction()
	if err != nil {
		slog.Warn("unreadable diagnosis confidence", "diagnosis_id", d.Id, "error", err)
		pred = core.UnknownPrediction(d.Classification)
	}

	out := api.Diagnosis{
		Id:         d.Id,
		UserId:     d.UserId,
		Prediction: convertPrediction(pred),
		HasImage:   d.ImageRef != "",
		CreatedAt:  d.CreationTime,
	}
	for _, class := range pred.ClassBreakdown(classLabels) {
		out.Classes = append(out.Classes, api.ClassProbability{Label: class.Label, Probability: class.Probability})
	}
	if d.Location.Valid {
		out.Location = &d.Location.String
	}
	return out
}

func convertDiagnoses(ds []database.Diagnosis, classLabels []string) []api.Diagnosis {
	out := make([]api.Diagnosis, 0, len(ds))
	for _, d := range ds {
		out = append(out, convertDiagnosis(d, classLabels))
	}
	return out
}

func convertConversation(c database.Conversation, classLabels []string) api.Conversation {
	out := api.Conversation{
		Id:        c.Id,
		UserId:    c.UserId,
		Title:     c.Title,
		CreatedAt: c.CreationTime,
		UpdatedAt: c.UpdateTime,
	}
	if c.DiagnosisId.Valid {
		id := c.DiagnosisId.UUID
		out.DiagnosisId = &id
	}
	if c.Diagnosis != nil {
		diag := convertDiagnosis(*c.Diagnosis, classLabels)
		out.Diagnosis = &diag
	}
	return out
}

func convertConversations(cs []database.Conversation, classLabels []string) []api.Conversation {
	out := make([]api.Conversation, 0, len(cs))
	for _, c := range cs {
		out = append(out, convertConversation(c, classLabels))
	}
	return out
}

func convertMessage(m database.Message) api.Message {
	out := api.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		Role:           m.Role,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
	}
	if len(m.Metadata) > 0 {
		out.Metadata = json.RawMessage(m.Metadata)
	}
	return out
}

func convertMessages(ms []database.Message) []api.Message {
	out := make([]api.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, convertMessage(m))
	}
	return out
}
