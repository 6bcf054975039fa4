package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"vderm-backend/internal/core"
	"vderm-backend/internal/core/utils"
	"vderm-backend/internal/diagnosis"
	"vderm-backend/internal/storage"
	"vderm-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	MaxImageSize   = 10 << 20
	imageFormField = "image"
)

type BackendService struct {
	diagnoses   *diagnosis.Service
	classLabels []string
}

func NewBackendService(diagnoses *diagnosis.Service, classLabels []string) *BackendService {
	return &BackendService{diagnoses: diagnoses, classLabels: classLabels}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/images", func(r chi.Router) {
		r.With(middleware.RequestSize(MaxImageSize+1<<20)).Post("/predicts", s.Predict)
	})
	r.Route("/diagnoses", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListDiagnoses))
		r.Get("/{diagnosis_id}", RestHandler(s.GetDiagnosis))
		r.Get("/{diagnosis_id}/image", s.GetDiagnosisImage)
	})
}

func (s *BackendService) Predict(w http.ResponseWriter, r *http.Request) {
	res, err := s.predict(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJsonResponse(w, http.StatusOK, res)
}

func (s *BackendService) predict(r *http.Request) (api.PredictResponse, error) {
	userId, err := optionalUser(r)
	if err != nil {
		return api.PredictResponse{}, err
	}

	image, filename, err := readImage(r)
	if err != nil {
		return api.PredictResponse{}, err
	}

	res, err := s.diagnoses.Diagnose(r.Context(), diagnosis.Request{
		UserId:   userId,
		Filename: filename,
		Image:    image,
		Location: strings.TrimSpace(r.FormValue("location")),
	})
	if err != nil {
		return api.PredictResponse{}, predictError(err)
	}

	pred := convertPrediction(res.Prediction)
	return api.PredictResponse{Prediction: &pred, DiagnosisId: res.DiagnosisId}, nil
}

func readImage(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(MaxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", CodedErrorf(http.StatusRequestEntityTooLarge, "image must be at most %d bytes", MaxImageSize)
		}
		return nil, "", CodedErrorf(http.StatusBadRequest, "expected a multipart form with an '%s' file", imageFormField)
	}

	file, header, err := r.FormFile(imageFormField)
	if err != nil {
		return nil, "", CodedErrorf(http.StatusBadRequest, "No file uploaded.")
	}
	defer file.Close()

	if header.Size > MaxImageSize {
		return nil, "", CodedErrorf(http.StatusRequestEntityTooLarge, "image must be at most %d bytes", MaxImageSize)
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxImageSize+1))
	if err != nil {
		return nil, "", CodedErrorf(http.StatusBadRequest, "unable to read uploaded image")
	}
	if len(data) > MaxImageSize {
		return nil, "", CodedErrorf(http.StatusRequestEntityTooLarge, "image must be at most %d bytes", MaxImageSize)
	}

	return data, header.Filename, nil
}

const maxErrorDetailLength = 1024

func predictError(err error) error {
	var invErr *core.InvocationError
	switch {
	case errors.Is(err, core.ErrEmptyImage):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, core.ErrClassifierBusy):
		return CodedErrorWithBody(http.StatusServiceUnavailable, err, api.PredictResponse{Error: "classifier is busy, try again shortly"})
	case errors.As(err, &invErr):
		slog.Error("classifier invocation failed", "reason", invErr.Reason, "exit_code", invErr.ExitCode, "stderr", invErr.Stderr)
		return CodedErrorWithBody(http.StatusBadGateway, err, api.PredictResponse{
			Error:  "Failed to process image: " + string(invErr.Reason),
			Detail: utils.TruncateRunes(strings.TrimSpace(invErr.Stderr), maxErrorDetailLength, "..."),
		})
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

func (s *BackendService) ListDiagnoses(r *http.Request) (any, error) {
	userId, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListDiagnosesParams](r)
	if err != nil {
		return nil, err
	}

	diags, err := s.diagnoses.Store().ListForUser(r.Context(), userId, params.Limit)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing diagnoses")
	}

	return api.ListDiagnosesResponse{Diagnoses: convertDiagnoses(diags, s.classLabels)}, nil
}

func (s *BackendService) GetDiagnosis(r *http.Request) (any, error) {
	userId, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	id, err := URLParamUUID(r, "diagnosis_id")
	if err != nil {
		return nil, err
	}

	diag, err := s.diagnoses.Store().GetForUser(r.Context(), userId, id)
	if err != nil {
		return nil, diagnosisError(err)
	}

	return convertDiagnosis(diag, s.classLabels), nil
}

func (s *BackendService) GetDiagnosisImage(w http.ResponseWriter, r *http.Request) {
	userId, err := requireUser(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	id, err := URLParamUUID(r, "diagnosis_id")
	if err != nil {
		WriteError(w, err)
		return
	}

	data, err := s.diagnoses.Image(r.Context(), userId, id)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			err = diagnosis.ErrNotFound
		}
		WriteError(w, diagnosisError(err))
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("error writing diagnosis image", "diagnosis_id", id, "error", err)
	}
}

func diagnosisError(err error) error {
	switch {
	case errors.Is(err, diagnosis.ErrNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.Is(err, diagnosis.ErrUnauthorized):
		return CodedError(http.StatusForbidden, err)
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}
