package models

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/blobstore"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

func openEngine(t *testing.T) *authz.Engine {
	t.Helper()
	ctx := context.Background()
	engine, err := authz.Open(ctx, authz.Options{Adapter: authz.NewMemoryAdapter("test"), Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	_, err = engine.Admin.GrantPermission(ctx, "analyst", blobstore.ObjectKey, authz.ActionView)
	require.NoError(t, err)
	for _, user := range []string{"alice", "bob"} {
		_, err = engine.Admin.GrantRoleToUser(ctx, user, "analyst")
		require.NoError(t, err)
	}
	return engine
}

// newTestRouter serves the catalogue with the session user picked per
// request from the X-Test-User header.
func newTestRouter(t *testing.T, svc *Service) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	handler := NewHandler(nil, svc, rbac.Middleware{Enforcer: openEngine(t)}, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			sess.SetUser(req.Header.Get("X-Test-User"))
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/models", handler.MountRoutes)
	return r
}

func do(router http.Handler, user, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("X-Test-User", user)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func uploadForm(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "upload.bin")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if name != "" {
		require.NoError(t, writer.WriteField("name", name))
	}
	require.NoError(t, writer.WriteField("description", "nightly run"))
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHandlerModelLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	router := newTestRouter(t, svc)

	body, contentType := uploadForm(t, "forecast.onnx", "weights")
	res := do(router, "alice", http.MethodPost, "/models/", body, contentType)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var created Model
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	require.Equal(t, "forecast.onnx", created.Name)
	require.Equal(t, "nightly run", created.Description)
	require.EqualValues(t, 7, created.FileSize)
	item := "/models/" + strconv.FormatInt(created.ID, 10)

	res = do(router, "bob", http.MethodGet, item, nil, "")
	require.Equal(t, http.StatusNotFound, res.Code)

	res = do(router, "alice", http.MethodPost, item+"/visibility", nil, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = do(router, "bob", http.MethodGet, "/models/public", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	var public []Model
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &public))
	require.Len(t, public, 1)

	res = do(router, "bob", http.MethodGet, item+"/download", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "weights", res.Body.String())
	require.Contains(t, res.Header().Get("Content-Disposition"), `filename="forecast.onnx"`)

	res = do(router, "bob", http.MethodPatch, item, bytes.NewBufferString(`{"name":"stolen"}`), "application/json")
	require.Equal(t, http.StatusForbidden, res.Code)

	res = do(router, "alice", http.MethodPatch, item, bytes.NewBufferString(`{"description":"v2"}`), "application/json")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var updated Model
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &updated))
	require.Equal(t, "v2", updated.Description)

	res = do(router, "alice", http.MethodGet, "/models/", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	var mine []Model
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &mine))
	require.Len(t, mine, 1)

	res = do(router, "alice", http.MethodDelete, item, nil, "")
	require.Equal(t, http.StatusNoContent, res.Code)
	res = do(router, "alice", http.MethodGet, item, nil, "")
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	svc, _, storage := newTestService()
	router := newTestRouter(t, svc)

	res := do(router, "carol", http.MethodGet, "/models/", nil, "")
	require.Equal(t, http.StatusForbidden, res.Code, "no model grant")

	res = do(router, "alice", http.MethodGet, "/models/abc", nil, "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = do(router, "alice", http.MethodPost, "/models/", bytes.NewBufferString("name=x"), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusBadRequest, res.Code)

	storage.failWith = "quota exceeded"
	body, contentType := uploadForm(t, "big.bin", "x")
	res = do(router, "alice", http.MethodPost, "/models/", body, contentType)
	require.Equal(t, http.StatusBadGateway, res.Code)
	require.True(t, strings.Contains(res.Body.String(), "quota exceeded"))
}
