package jobs

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rec
}

func TestHealthReportsQueueState(t *testing.T) {
	rec := serveHealth(t, fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2, Retry: 1}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","paused":false,"pending":2,"active":0,"scheduled":0,"retry":1,"archived":0}`, rec.Body.String())
}

func TestHealthWithoutInspector(t *testing.T) {
	rec := serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","paused":false,"pending":0,"active":0,"scheduled":0,"retry":0,"archived":0}`, rec.Body.String())
}

func TestHealthUnavailableQueue(t *testing.T) {
	rec := serveHealth(t, fakeInspector{err: errors.New("dial tcp: refused")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewWorkerRejectsIncompleteRegistrations(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Handlers: []TaskHandler{{Type: TaskRulesAudit}}})
	require.Error(t, err)

	task, err := NewRulesAuditTask(false)
	require.NoError(t, err)
	_, err = NewWorker(WorkerConfig{Cron: []CronRegistration{{Task: task}}})
	require.Error(t, err)
}
