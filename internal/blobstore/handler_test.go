package blobstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

func newModelRouter(t *testing.T, client *Client, user string) (http.Handler, *authz.Engine) {
	t.Helper()
	engine, err := authz.Open(context.Background(), authz.Options{Adapter: authz.NewMemoryAdapter("test"), Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sessions := shared.NewSessionManager(rdb, "test_session", time.Hour, false)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			sess.SetUser(user)
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/models", NewHandler(client, nil, rbac.Middleware{Enforcer: engine}).MountRoutes)
	return r, engine
}

func TestHandlerListsOwnFilesWhenGranted(t *testing.T) {
	fake, client := newFakeModelServer(t)
	fake.files["alice/a.onnx"] = []byte("a")
	fake.files["bob/b.onnx"] = []byte("b")
	router, engine := newModelRouter(t, client, "alice")

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/models/", nil))
	require.Equal(t, http.StatusForbidden, res.Code)

	_, err := engine.Admin.GrantPermission(context.Background(), "alice", ObjectKey, authz.ActionView)
	require.NoError(t, err)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/models/", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var result Result
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	require.Len(t, result.Files, 1)
	require.Equal(t, "alice/a.onnx", result.Files[0].Path)
}

func TestHandlerDownloadFailureIsBadGateway(t *testing.T) {
	_, client := newFakeModelServer(t)
	router, engine := newModelRouter(t, client, "alice")
	_, err := engine.Admin.GrantPermission(context.Background(), "alice", ObjectKey, authz.ActionView)
	require.NoError(t, err)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/models/download?path=alice/none.onnx", nil))
	require.Equal(t, http.StatusBadGateway, res.Code)
	require.Contains(t, res.Body.String(), "File not found")
}
