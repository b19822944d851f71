package handler_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/quarrylabs/quarry/internal/chunker"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/filestore"
	"github.com/quarrylabs/quarry/internal/handler"
	"github.com/quarrylabs/quarry/internal/middleware"
	"github.com/quarrylabs/quarry/internal/pkg/jwt"
	"github.com/quarrylabs/quarry/internal/queue"
	"github.com/quarrylabs/quarry/internal/repo"
	"github.com/quarrylabs/quarry/internal/service"
	"github.com/quarrylabs/quarry/test/testutil"
)

var testJWTSecret = []byte("test-secret")

const testVectorDim = 1536

// hashEmbedder derives a deterministic unit vector from the text alone, so
// identical texts always score 1.0 against each other and unrelated texts
// score near zero.
type hashEmbedder struct{}

func (hashEmbedder) ModelName() string { return "hash-test" }

func (hashEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, hashVector(text))
	}
	return out, nil
}

func hashVector(text string) []float32 {
	digest := sha256.Sum256([]byte(text))
	rng := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(digest[:8]))))
	v := make([]float32, testVectorDim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func setupRouter(t *testing.T) (http.Handler, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, cleanup := testutil.OpenTestDB(t)
	testutil.ResetTables(t, db)

	docRepo := repo.NewDocumentRepo(db)
	fragmentRepo := repo.NewFragmentRepo(db)
	kbRepo := repo.NewKnowledgeBaseRepo(db)

	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	embedClient := embedding.NewClient(hashEmbedder{}, embedding.Config{
		Dimension:  testVectorDim,
		BatchDelay: time.Millisecond,
	})
	queryEmbedder := embedding.NewQueryCache(embedClient, 16, time.Minute)

	chunkCfg := chunker.Config{ChunkSize: 8, Overlap: 0, Separator: "\n"}
	processor := service.NewProcessor(docRepo, fragmentRepo, kbRepo, store, embedClient, chunkCfg)
	dispatcher := queue.NewInlineDispatcher(service.ProcessJobHandler(processor))

	deps := handler.RouterDeps{
		KnowledgeBases: handler.NewKnowledgeBaseHandler(
			service.NewKnowledgeBaseService(kbRepo, docRepo, fragmentRepo, store)),
		Documents: handler.NewDocumentHandler(
			service.NewDocumentService(docRepo, fragmentRepo, kbRepo, store, dispatcher), 1<<20),
		Search: handler.NewSearchHandler(
			service.NewSearchService(queryEmbedder, fragmentRepo, kbRepo)),
		Queue:     handler.NewQueueHandler(dispatcher),
		JWTSecret: testJWTSecret,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)

	return engine, cleanup
}

func authHeader(t *testing.T, tenantID string) string {
	t.Helper()
	token, err := jwt.GenerateToken(tenantID, testJWTSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var parsed apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &parsed))
	return resp, parsed
}

func doUpload(t *testing.T, router http.Handler, path, token string, fileName string, content []byte, priority string) apiResponse {
	t.Helper()
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if priority != "" {
		require.NoError(t, form.WriteField("priority", priority))
	}
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var parsed apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &parsed))
	return parsed
}

func decodeData(t *testing.T, resp apiResponse, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}
