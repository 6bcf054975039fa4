package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	backend "vderm-backend/internal/api"
	"vderm-backend/internal/chat"
	"vderm-backend/internal/core"
	"vderm-backend/internal/database"
	"vderm-backend/internal/diagnosis"
	"vderm-backend/internal/messaging"
	"vderm-backend/internal/storage"
	"vderm-backend/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/fake"
	"gorm.io/gorm"
)

var labels = []string{"Lumpy", "Normal"}

type stubClassifier struct {
	pred core.Prediction
	err  error
}

func (c *stubClassifier) Infer(ctx context.Context, image []byte) (core.Prediction, error) {
	if len(image) == 0 {
		return core.Prediction{}, core.ErrEmptyImage
	}
	return c.pred, c.err
}

type testServer struct {
	db         *gorm.DB
	classifier *stubClassifier
	queue      *messaging.InMemoryQueue
	handler    http.Handler
}

func createDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	return db
}

func newTestServer(t *testing.T, replies ...string) *testServer {
	t.Helper()
	db := createDB(t)

	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	classifier := &stubClassifier{pred: core.VectorPrediction("Lumpy", []float64{0.85, 0.15})}
	queue := messaging.NewInMemoryQueue(100)
	store := diagnosis.NewStore(db)
	diagnoses := diagnosis.NewService(classifier, store, provider, "uploads", queue)

	if len(replies) == 0 {
		replies = []string{"Isolate the animal and call a veterinarian."}
	}
	assistant := chat.NewLLMAssistant(fake.NewFakeLLM(replies), 0)
	manager := chat.NewManager(db, store, chat.NewPromptBuilder(labels), assistant)

	return &testServer{
		db:         db,
		classifier: classifier,
		queue:      queue,
		handler: backend.NewRouter([]string{"*"},
			backend.NewBackendService(diagnoses, labels),
			backend.NewChatService(manager, labels),
		),
	}
}

func (s *testServer) do(t *testing.T, method, path, userId string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if userId != "" {
		req.Header.Set(backend.UserIdHeader, userId)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path, userId string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	return s.do(t, method, path, userId, reader, "application/json")
}

func (s *testServer) predict(t *testing.T, userId string, image []byte, location string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if image != nil {
		part, err := w.CreateFormFile("image", "cow.jpg")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	if location != "" {
		require.NoError(t, w.WriteField("location", location))
	}
	require.NoError(t, w.Close())

	return s.do(t, http.MethodPost, "/images/predicts", userId, &buf, w.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vderm_http_requests_total")
}

func TestPredictWithIdentity(t *testing.T) {
	s := newTestServer(t)

	rec := s.predict(t, "farmer-1", []byte("jpeg bytes"), "Multan")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[api.PredictResponse](t, rec)
	require.NotNil(t, res.Prediction)
	assert.Equal(t, "Lumpy", res.Prediction.Classification)
	assert.Equal(t, []float64{0.85, 0.15}, res.Prediction.ConfidenceVector)
	assert.Equal(t, "85.00%", res.Prediction.Confidence)
	assert.Nil(t, res.Prediction.ConfidenceScore)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.DiagnosisId)

	path := "/diagnoses/" + res.DiagnosisId.String()

	rec = s.do(t, http.MethodGet, path, "farmer-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	diag := decode[api.Diagnosis](t, rec)
	assert.Equal(t, "farmer-1", diag.UserId)
	require.NotNil(t, diag.Location)
	assert.Equal(t, "Multan", *diag.Location)
	assert.True(t, diag.HasImage)
	assert.Equal(t, []api.ClassProbability{{Label: "Lumpy", Probability: 0.85}, {Label: "Normal", Probability: 0.15}}, diag.Classes)

	rec = s.do(t, http.MethodGet, path, "farmer-2", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, path+"/image", "farmer-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg bytes", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/diagnoses", "farmer-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[api.ListDiagnosesResponse](t, rec)
	require.Len(t, list.Diagnoses, 1)
	assert.Equal(t, *res.DiagnosisId, list.Diagnoses[0].Id)

	assert.Len(t, s.queue.Tasks(), 1)
}

func TestPredictAnonymous(t *testing.T) {
	s := newTestServer(t)

	rec := s.predict(t, "", []byte("jpeg bytes"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"diagnosisId":null`)
	res := decode[api.PredictResponse](t, rec)
	require.NotNil(t, res.Prediction)
	assert.Nil(t, res.DiagnosisId)

	var n int64
	require.NoError(t, s.db.Model(&database.Diagnosis{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestPredictScalarConfidence(t *testing.T) {
	s := newTestServer(t)
	s.classifier.pred = core.ScalarPrediction("Normal", 0.66)

	rec := s.predict(t, "farmer-1", []byte("jpeg bytes"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[api.PredictResponse](t, rec)
	require.NotNil(t, res.Prediction)
	assert.Equal(t, []float64{}, res.Prediction.ConfidenceVector)
	require.NotNil(t, res.Prediction.ConfidenceScore)
	assert.Equal(t, 0.66, *res.Prediction.ConfidenceScore)
	assert.Equal(t, "66.00%", res.Prediction.Confidence)
}

func TestPredictBadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := s.predict(t, "farmer-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded.", decode[api.ErrorResponse](t, rec).Error)

	rec = s.predict(t, "farmer-1", []byte{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/images/predicts", "farmer-1", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.predict(t, strings.Repeat("x", 200), []byte("jpeg"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictTooLarge(t *testing.T) {
	s := newTestServer(t)

	rec := s.predict(t, "farmer-1", bytes.Repeat([]byte{0xff}, backend.MaxImageSize+1), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictClassifierFailures(t *testing.T) {
	s := newTestServer(t)

	s.classifier.err = &core.InvocationError{Reason: core.FailureProcess, ExitCode: 1, Stderr: "model file missing"}
	rec := s.predict(t, "farmer-1", []byte("jpeg"), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prediction":null`)
	assert.Contains(t, rec.Body.String(), `"diagnosisId":null`)
	res := decode[api.PredictResponse](t, rec)
	assert.Equal(t, "Failed to process image: "+string(core.FailureProcess), res.Error)
	assert.Equal(t, "model file missing", res.Detail)

	s.classifier.err = &core.InvocationError{Reason: core.FailureProcess, ExitCode: 1, Stderr: strings.Repeat("x", 5000)}
	rec = s.predict(t, "farmer-1", []byte("jpeg"), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Len(t, []rune(decode[api.PredictResponse](t, rec).Detail), 1027)

	s.classifier.err = core.ErrClassifierBusy
	rec = s.predict(t, "farmer-1", []byte("jpeg"), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var n int64
	require.NoError(t, s.db.Model(&database.Diagnosis{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestDiagnosisEndpointsRequireIdentity(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/diagnoses", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/diagnoses/"+uuid.NewString(), "farmer-1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/diagnoses/not-a-uuid", "farmer-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
