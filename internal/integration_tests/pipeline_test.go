//go:build integration
// +build integration

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "vderm-backend/internal/api"
	"vderm-backend/internal/chat"
	"vderm-backend/internal/core"
	"vderm-backend/internal/diagnosis"
	"vderm-backend/internal/messaging"
	"vderm-backend/internal/storage"
	"vderm-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/fake"
)

const imageBucket = "diagnosis-images"

func setupS3Provider(t *testing.T, ctx context.Context) *storage.S3Provider {
	endpoint := setupMinioContainer(t, ctx)

	provider, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     endpoint,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)
	require.NoError(t, provider.CreateBucket(ctx, imageBucket))

	return provider
}

func uploadImage(t *testing.T, router http.Handler, userId string, image []byte) api.PredictResponse {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "cow.jpg")
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("location", "Punjab"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/images/predicts", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(backend.UserIdHeader, userId)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestDiagnosisToConversationPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t, ctx)
	s3Provider := setupS3Provider(t, ctx)

	classifier, err := core.NewClassifier(
		core.ClassifierPaths{Executable: writeClassifier(t, `{"classification": "Lumpy", "confidence": [[0.93, 0.07]]}`)},
		core.ClassifierOptions{Timeout: 30 * time.Second, MaxConcurrency: 2, TempDir: t.TempDir()},
	)
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue(10)
	store := diagnosis.NewStore(db)
	diagnoses := diagnosis.NewService(classifier, store, s3Provider, imageBucket, queue)

	labels := []string{"Lumpy", "Normal"}
	assistant := chat.NewLLMAssistant(fake.NewFakeLLM([]string{"Separate the sick cow and contact a veterinarian."}), 10*time.Second)
	manager := chat.NewManager(db, store, chat.NewPromptBuilder(labels), assistant)

	router := backend.NewRouter([]string{"*"},
		backend.NewBackendService(diagnoses, labels),
		backend.NewChatService(manager, labels),
	)

	image := []byte("\xff\xd8\xff\xe0 fake jpeg")
	res := uploadImage(t, router, "farmer-1", image)
	require.NotNil(t, res.Prediction)
	assert.Equal(t, "Lumpy", res.Prediction.Classification)
	assert.Equal(t, "93.00%", res.Prediction.Confidence)
	require.NotNil(t, res.DiagnosisId)

	diag, err := store.Get(ctx, *res.DiagnosisId)
	require.NoError(t, err)
	bucket, key, err := storage.SplitRef(diag.ImageRef)
	require.NoError(t, err)
	stored, err := s3Provider.GetObject(ctx, bucket, key)
	require.NoError(t, err)
	assert.Equal(t, image, stored)

	var conv api.Conversation
	require.NoError(t, httpRequest(router, http.MethodPost, "/chat/conversations", "farmer-1", api.CreateConversationRequest{DiagnosisId: res.DiagnosisId}, &conv))
	assert.Contains(t, conv.Title, "Chat about Lumpy")

	var turn api.SendMessageResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/chat/message", "farmer-1", api.SendMessageRequest{ConversationId: conv.Id, Content: "What should I do?"}, &turn))
	assert.Equal(t, "Separate the sick cow and contact a veterinarian.", turn.AiMessage.Content)

	var history api.GetMessagesResponse
	require.NoError(t, httpRequest(router, http.MethodGet, "/chat/conversations/"+conv.Id.String()+"/messages", "farmer-1", nil, &history))
	require.Len(t, history.Messages, 3)
	assert.Equal(t, []string{"assistant", "user", "assistant"}, []string{history.Messages[0].Role, history.Messages[1].Role, history.Messages[2].Role})

	var list api.ListConversationsResponse
	require.NoError(t, httpRequest(router, http.MethodGet, "/chat/conversations", "farmer-1", nil, &list))
	require.Len(t, list.Conversations, 1)
	require.NotNil(t, list.Conversations[0].Diagnosis)

	require.Error(t, httpRequest(router, http.MethodDelete, "/chat/conversations/"+conv.Id.String(), "farmer-2", nil, nil))
	require.NoError(t, httpRequest(router, http.MethodDelete, "/chat/conversations/"+conv.Id.String(), "farmer-1", nil, nil))
	require.Error(t, httpRequest(router, http.MethodGet, "/chat/conversations/"+conv.Id.String()+"/messages", "farmer-1", nil, nil))

	task := <-queue.Tasks()
	assert.Equal(t, messaging.DiagnosisEventsQueue, task.Type())
}

func TestS3ProviderObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupS3Provider(t, ctx)

	require.NoError(t, provider.CreateBucket(ctx, imageBucket))

	key := storage.UploadKey("udder.png", time.Now())
	require.NoError(t, provider.PutObject(ctx, imageBucket, key, bytes.NewReader([]byte("png"))))

	data, err := provider.GetObject(ctx, imageBucket, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = provider.GetObject(ctx, imageBucket, "missing.jpg")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}
