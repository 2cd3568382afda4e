package models

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/blobstore"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
	_ "github.com/odyssey-erp/odyssey-authz/testing"
)

type memoryRepo struct {
	mu        sync.Mutex
	models    map[int64]Model
	nextID    int64
	createErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{models: make(map[int64]Model), nextID: 1}
}

func (r *memoryRepo) ListByOwner(_ context.Context, ownerID int64) ([]Model, error) {
	return r.filter(func(m Model) bool { return m.OwnerID == ownerID }), nil
}

func (r *memoryRepo) ListPublic(context.Context) ([]Model, error) {
	return r.filter(func(m Model) bool { return m.IsPublic }), nil
}

func (r *memoryRepo) filter(keep func(Model) bool) []Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Model
	for _, m := range r.models {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return Model{}, ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) Create(_ context.Context, m Model) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return Model{}, r.createErr
	}
	m.ID = r.nextID
	r.nextID++
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	// The owner username comes from the users join.
	m.Owner = ownerNames[m.OwnerID]
	r.models[m.ID] = m
	return m, nil
}

func (r *memoryRepo) Update(_ context.Context, m Model) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.ID]; !ok {
		return Model{}, ErrNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	r.models[m.ID] = m
	return m, nil
}

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return ErrNotFound
	}
	delete(r.models, id)
	return nil
}

var ownerNames = map[int64]string{1: "alice", 2: "bob"}

type fakeOwners struct{}

func (fakeOwners) FindByUsername(_ context.Context, username string) (users.User, error) {
	for id, name := range ownerNames {
		if name == username {
			return users.User{ID: id, Username: name, IsActive: true}, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

// memoryStorage keeps files by owner and path, the way the model server does.
type memoryStorage struct {
	mu        sync.Mutex
	files     map[string][]byte
	failWith  string
	deleteErr string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{files: make(map[string][]byte)}
}

func (s *memoryStorage) Upload(_ context.Context, owner, modelName, subDirectory string, data io.Reader) blobstore.Result {
	if s.failWith != "" {
		return blobstore.Result{Error: s.failWith}
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return blobstore.Result{Error: err.Error()}
	}
	serverPath := path.Join(subDirectory, modelName)
	s.mu.Lock()
	s.files[owner+"/"+serverPath] = raw
	s.mu.Unlock()
	return blobstore.Result{Success: true, ServerPath: serverPath}
}

func (s *memoryStorage) Delete(_ context.Context, owner, serverPath string) blobstore.Result {
	if s.deleteErr != "" {
		return blobstore.Result{Error: s.deleteErr}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, owner+"/"+serverPath)
	return blobstore.Result{Success: true}
}

func (s *memoryStorage) Download(_ context.Context, owner, serverPath string, dst io.Writer) blobstore.Result {
	s.mu.Lock()
	raw, ok := s.files[owner+"/"+serverPath]
	s.mu.Unlock()
	if !ok {
		return blobstore.Result{Error: "file not found"}
	}
	_, _ = dst.Write(raw)
	return blobstore.Result{Success: true}
}

func (s *memoryStorage) stored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newTestService() (*Service, *memoryRepo, *memoryStorage) {
	repo, storage := newMemoryRepo(), newMemoryStorage()
	return NewService(repo, storage, fakeOwners{}, nil), repo, storage
}

func TestSaveRecordsSizeAndPath(t *testing.T) {
	ctx := context.Background()
	svc, _, storage := newTestService()

	model, err := svc.Save(ctx, "alice", UploadInput{Name: " churn.pkl ", Description: "weekly", SubDirectory: "/trained/"},
		strings.NewReader("0123456789"))
	require.NoError(t, err)
	require.Equal(t, "churn.pkl", model.Name)
	require.Equal(t, "trained/churn.pkl", model.FilePath)
	require.EqualValues(t, 10, model.FileSize)
	require.Equal(t, "alice", model.Owner)
	require.False(t, model.IsPublic)
	require.Equal(t, []string{"alice/trained/churn.pkl"}, storage.stored())

	_, err = svc.Save(ctx, "alice", UploadInput{Name: ""}, strings.NewReader("x"))
	require.True(t, IsValidation(err))

	_, err = svc.Save(ctx, "mallory", UploadInput{Name: "m.bin"}, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSaveReportsStorageFailure(t *testing.T) {
	svc, repo, storage := newTestService()
	storage.failWith = "disk full"

	_, err := svc.Save(context.Background(), "alice", UploadInput{Name: "m.bin"}, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorContains(t, err, "disk full")
	require.Empty(t, repo.models)
}

func TestSaveRemovesFileWhenRecordFails(t *testing.T) {
	svc, repo, storage := newTestService()
	repo.createErr = errors.New("connection reset")

	_, err := svc.Save(context.Background(), "alice", UploadInput{Name: "m.bin"}, strings.NewReader("x"))
	require.ErrorContains(t, err, "connection reset")
	require.Empty(t, storage.stored())
}

func TestVisibilityRules(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	private, err := svc.Save(ctx, "alice", UploadInput{Name: "private.bin"}, strings.NewReader("p"))
	require.NoError(t, err)
	shared, err := svc.Save(ctx, "alice", UploadInput{Name: "shared.bin"}, strings.NewReader("s"))
	require.NoError(t, err)
	shared, err = svc.ToggleVisibility(ctx, "alice", shared.ID)
	require.NoError(t, err)
	require.True(t, shared.IsPublic)

	mine, err := svc.ListMine(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	theirs, err := svc.ListMine(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, theirs)
	public, err := svc.ListPublic(ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	require.Equal(t, shared.ID, public[0].ID)

	_, err = svc.Get(ctx, "bob", private.ID)
	require.ErrorIs(t, err, ErrNotFound)
	got, err := svc.Get(ctx, "bob", shared.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Owner)

	// Readable is not writable.
	_, err = svc.ToggleVisibility(ctx, "bob", shared.ID)
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, svc.Delete(ctx, "bob", shared.ID), ErrForbidden)
	require.ErrorIs(t, svc.Delete(ctx, "bob", private.ID), ErrNotFound)

	var buf bytes.Buffer
	_, err = svc.Download(ctx, "bob", shared.ID, &buf)
	require.NoError(t, err)
	require.Equal(t, "s", buf.String())
}

func TestUpdateChangesOnlyGivenFields(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	model, err := svc.Save(ctx, "alice", UploadInput{Name: "m.bin", Description: "first"}, strings.NewReader("x"))
	require.NoError(t, err)

	name, public := " renamed ", true
	updated, err := svc.Update(ctx, "alice", model.ID, UpdateInput{Name: &name, IsPublic: &public})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, "first", updated.Description)
	require.True(t, updated.IsPublic)
	require.Equal(t, model.FilePath, updated.FilePath)

	blank := "   "
	_, err = svc.Update(ctx, "alice", model.ID, UpdateInput{Name: &blank})
	require.True(t, IsValidation(err))

	_, err = svc.Update(ctx, "alice", 404, UpdateInput{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteKeepsGoingWhenFileRemovalFails(t *testing.T) {
	ctx := context.Background()
	svc, repo, storage := newTestService()
	model, err := svc.Save(ctx, "alice", UploadInput{Name: "m.bin"}, strings.NewReader("x"))
	require.NoError(t, err)

	storage.deleteErr = "server unreachable"
	require.NoError(t, svc.Delete(ctx, "alice", model.ID))
	require.Empty(t, repo.models)
	require.Equal(t, []string{"alice/m.bin"}, storage.stored())
}
