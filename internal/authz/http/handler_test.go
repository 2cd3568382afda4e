package authzhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
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

type failingAdapter struct {
	*authz.MemoryAdapter
	fail bool
}

func (f *failingAdapter) SaveRules(ctx context.Context, namespace string, rules []authz.Rule) error {
	if f.fail {
		return errors.New("database is read-only")
	}
	return f.MemoryAdapter.SaveRules(ctx, namespace, rules)
}

type fixture struct {
	engine  *authz.Engine
	adapter *failingAdapter
	router  http.Handler
}

func newFixture(t *testing.T, user string) *fixture {
	t.Helper()
	ctx := context.Background()
	adapter := &failingAdapter{MemoryAdapter: authz.NewMemoryAdapter("test")}
	engine, err := authz.Open(ctx, authz.Options{Adapter: adapter, Namespace: "test"})
	require.NoError(t, err)
	_, err = engine.Admin.GrantRoleToUser(ctx, "root", "admin")
	require.NoError(t, err)
	_, err = engine.Admin.GrantPermission(ctx, "admin", DefaultAdminObject, authz.ActionView)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)

	handler := NewHandler(nil, engine, rbac.Middleware{Enforcer: engine}, "")
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			if user != "" {
				sess.SetUser(user)
			}
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/authz", handler.MountRoutes)
	return &fixture{engine: engine, adapter: adapter, router: r}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, httptest.NewRequest(method, path, strings.NewReader(body)))
	return res
}

func TestAdminAPIRequiresGrant(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, newFixture(t, "").do(t, http.MethodGet, "/authz/roles", "").Code)
	require.Equal(t, http.StatusForbidden, newFixture(t, "mallory").do(t, http.MethodGet, "/authz/roles", "").Code)
}

func TestAdminAPIRoleLifecycle(t *testing.T) {
	f := newFixture(t, "root")

	res := f.do(t, http.MethodPost, "/authz/roles", `{"role":"auditor"}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = f.do(t, http.MethodGet, "/authz/roles", "")
	var roles []string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &roles))
	require.Equal(t, []string{"admin", "auditor"}, roles)

	res = f.do(t, http.MethodPut, "/authz/roles/auditor/permissions", `{"permissions":[{"object":"system"},{"object":"model","action":"view"}]}`)
	require.Equal(t, http.StatusNoContent, res.Code, res.Body.String())
	require.Equal(t, []authz.Permission{{Object: "model", Action: "view"}, {Object: "system", Action: "view"}}, f.engine.Admin.PermissionsOf("auditor"))

	res = f.do(t, http.MethodPost, "/authz/users/alice/roles", `{"role":"auditor"}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"changed":true}`, res.Body.String())

	res = f.do(t, http.MethodGet, "/authz/users/alice/menus", "")
	require.JSONEq(t, `["model","system"]`, res.Body.String())

	res = f.do(t, http.MethodPost, "/authz/enforce", `{"subject":"alice","object":"system"}`)
	var decision authz.Decision
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "auditor", decision.MatchedSubject)

	res = f.do(t, http.MethodDelete, "/authz/roles/auditor", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Empty(t, f.engine.Admin.RolesOfUser("alice"))

	res = f.do(t, http.MethodDelete, "/authz/users/alice/roles/auditor", "")
	require.JSONEq(t, `{"changed":false}`, res.Body.String())
}

func TestAdminAPIDirectPermissions(t *testing.T) {
	f := newFixture(t, "root")

	res := f.do(t, http.MethodPost, "/authz/subjects/bob/permissions", `{"object":"algorithm"}`)
	require.JSONEq(t, `{"changed":true}`, res.Body.String())

	res = f.do(t, http.MethodGet, "/authz/subjects/bob/permissions", "")
	require.JSONEq(t, `[{"object":"algorithm","action":"view"}]`, res.Body.String())

	res = f.do(t, http.MethodDelete, "/authz/subjects/bob/permissions?object=algorithm&action=view", "")
	require.JSONEq(t, `{"changed":true}`, res.Body.String())

	res = f.do(t, http.MethodPost, "/authz/subjects/bob/permissions", `{"object":""}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAdminAPIReportsPersistenceFailures(t *testing.T) {
	f := newFixture(t, "root")
	f.adapter.fail = true

	res := f.do(t, http.MethodDelete, "/authz/roles/admin", "")
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
	require.Contains(t, res.Body.String(), "Cascade Failed")

	res = f.do(t, http.MethodPut, "/authz/users/root/roles", `{"roles":["viewer"]}`)
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
	require.Equal(t, []string{"admin"}, f.engine.Admin.RolesOfUser("root"))
}
