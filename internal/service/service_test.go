package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/olgkv/cyclecount/internal/cyclecount"
	"github.com/olgkv/cyclecount/internal/domain"
	"github.com/olgkv/cyclecount/internal/ports"
	"github.com/olgkv/cyclecount/internal/roles"
	"github.com/olgkv/cyclecount/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	managerID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	userID    = "0f8fad5b-d9cb-469f-a165-70867728950e"
)

var fixedNow = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

// flakyGateway wraps a real gateway and fails selected operations.
type flakyGateway struct {
	ports.Gateway
	putErr error
	getErr map[string]error
	onPut  func()
}

func (f *flakyGateway) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := f.getErr[path]; err != nil {
		return nil, err
	}
	return f.Gateway.Get(ctx, path)
}

func (f *flakyGateway) Put(ctx context.Context, path string, record any) error {
	if f.putErr != nil {
		return f.putErr
	}
	err := f.Gateway.Put(ctx, path, record)
	if f.onPut != nil {
		f.onPut()
	}
	return err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TaskEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newBackend(t *testing.T) *storage.FileGateway {
	t.Helper()
	gw := storage.NewFileGateway(storage.NewJSONRepository(filepath.Join(t.TempDir(), "data.json")))
	require.NoError(t, gw.Load())

	ctx := context.Background()
	require.NoError(t, gw.Put(ctx, ports.TaskPath("T1"), ports.TaskRecord{Name: "Main hall", Location: "Floor 1", Status: domain.StatusOpen}))
	for _, a := range []ports.AssetRecord{
		{ID: "A1", Name: "Laptop", Barcode: "LP-001", Location: "Floor 1"},
		{ID: "A2", Name: "Monitor", Barcode: "MN-002", Location: "Floor 2"},
		{ID: "A3", Name: "Laptop bag", Barcode: "LB-003", Location: "Floor 1"},
	} {
		require.NoError(t, gw.Put(ctx, ports.TaskAssetPath("T1", a.ID), a))
	}
	require.NoError(t, gw.Put(ctx, ports.ActorRolePath(managerID), ports.RoleRecord{Role: "manager"}))
	return gw
}

func newTestService(gw ports.Gateway, pub ports.EventPublisher) *Service {
	ctrl := cyclecount.NewController(cyclecount.AllCounted, roles.NewSet(domain.RoleAdmin, domain.RoleManager))
	svc := New(Deps{Gateway: gw, Controller: ctrl, Events: pub}, Config{DefaultPageSize: 2, MaxPageSize: 10})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestLoadTask(t *testing.T) {
	svc := newTestService(newBackend(t), nil)

	task, err := svc.LoadTask(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "Main hall", task.Name)
	require.Len(t, task.Assets, 3)
	assert.Equal(t, "A1", task.Assets[0].ID)
	assert.Equal(t, 0, task.Progress().LocationMismatches, "uncounted assets never mismatch")
}

func TestLoadTask_NotFound(t *testing.T) {
	svc := newTestService(newBackend(t), nil)

	_, err := svc.LoadTask(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = svc.LoadTask(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAssets(t *testing.T) {
	svc := newTestService(newBackend(t), nil)
	ctx := context.Background()

	page, err := svc.ListAssets(ctx, "T1", AssetQuery{Search: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page.TotalItems)
	assert.Equal(t, 1, page.Page.TotalPages)
	assert.Equal(t, []string{"A1", "A3"}, ids(page.Items))
	assert.Equal(t, 3, page.Progress.Total)

	page, err = svc.ListAssets(ctx, "T1", AssetQuery{Page: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"A3"}, ids(page.Items))
	assert.False(t, page.Page.CanGoNext)
	assert.True(t, page.Page.CanGoPrevious)

	page, err = svc.ListAssets(ctx, "T1", AssetQuery{Page: 99, PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Page.PageSize)
	assert.Equal(t, 1, page.Page.Current)

	page, err = svc.ListAssets(ctx, "T1", AssetQuery{Status: "counted"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Equal(t, 1, page.Page.TotalPages)
}

func TestToggleAsset_PersistsAndPublishes(t *testing.T) {
	gw := newBackend(t)
	pub := &recordingPublisher{}
	svc := newTestService(gw, pub)

	task, err := svc.ToggleAsset(context.Background(), "T1", "A2", userID)
	require.NoError(t, err)
	assert.True(t, task.Assets[1].Counted)

	require.NotNil(t, task.Assets[1].CountedAt)
	assert.Equal(t, fixedNow, *task.Assets[1].CountedAt)
	assert.Equal(t, userID, task.Assets[1].CountedBy)

	reloaded, err := svc.LoadTask(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, reloaded.Assets[1].Counted)
	require.NotNil(t, reloaded.Assets[1].CountedAt)
	assert.True(t, fixedNow.Equal(*reloaded.Assets[1].CountedAt))
	assert.Equal(t, userID, reloaded.Assets[1].CountedBy)

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, domain.EventAssetToggled, e.Type)
	assert.Equal(t, "A2", e.AssetID)
	require.NotNil(t, e.Counted)
	assert.True(t, *e.Counted)
	assert.Equal(t, fixedNow, e.OccurredAt)
}

func TestToggleAsset_UndoClearsCountAudit(t *testing.T) {
	svc := newTestService(newBackend(t), nil)
	ctx := context.Background()

	_, err := svc.ToggleAsset(ctx, "T1", "A1", userID)
	require.NoError(t, err)
	_, err = svc.ToggleAsset(ctx, "T1", "A1", managerID)
	require.NoError(t, err)

	reloaded, err := svc.LoadTask(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, reloaded.Assets[0].Counted)
	assert.Nil(t, reloaded.Assets[0].CountedAt)
	assert.Empty(t, reloaded.Assets[0].CountedBy)
}

func TestToggleAsset_LocksByTrimmedTaskID(t *testing.T) {
	gw := &flakyGateway{Gateway: newBackend(t)}
	svc := newTestService(gw, nil)

	var keys []string
	gw.onPut = func() {
		svc.locks.mu.Lock()
		defer svc.locks.mu.Unlock()
		for k := range svc.locks.locks {
			keys = append(keys, k)
		}
	}

	_, err := svc.ToggleAsset(context.Background(), "  T1 ", "A1", userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, keys)
}

func TestToggleAsset_PersistFailureDiscardsValue(t *testing.T) {
	backend := newBackend(t)
	gw := &flakyGateway{Gateway: backend, putErr: errors.New("backend unavailable")}
	pub := &recordingPublisher{}
	svc := newTestService(gw, pub)

	_, err := svc.ToggleAsset(context.Background(), "T1", "A1", userID)
	require.Error(t, err)

	task, err := newTestService(backend, nil).LoadTask(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, task.Assets[0].Counted)
	assert.Empty(t, pub.events)
}

func TestToggleAsset_CancelledAfterPersistIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &flakyGateway{Gateway: newBackend(t), onPut: cancel}
	pub := &recordingPublisher{}
	svc := newTestService(gw, pub)

	_, err := svc.ToggleAsset(ctx, "T1", "A1", userID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.events)
}

func TestToggleAsset_Errors(t *testing.T) {
	svc := newTestService(newBackend(t), nil)

	_, err := svc.ToggleAsset(context.Background(), "T1", "A9", userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ToggleAsset(context.Background(), "T9", "A1", userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestToggleAsset_ConcurrentTogglesAreSerialized(t *testing.T) {
	svc := newTestService(newBackend(t), nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ToggleAsset(context.Background(), "T1", "A1", userID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// чётное число переключений возвращает исходное значение
	task, err := svc.LoadTask(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, task.Assets[0].Counted)
	assert.Empty(t, svc.locks.locks)
}

func TestCompletion(t *testing.T) {
	svc := newTestService(newBackend(t), nil)
	ctx := context.Background()

	for _, id := range []string{"A1", "A2", "A3"} {
		_, err := svc.ToggleAsset(ctx, "T1", id, managerID)
		require.NoError(t, err)
	}

	state, err := svc.Completion(ctx, "T1", managerID)
	require.NoError(t, err)
	assert.Equal(t, Completion{CanComplete: true, Ready: true, Role: domain.RoleManager, Counted: 3, Total: 3}, state)

	// no stored role: default user role may not complete
	state, err = svc.Completion(ctx, "T1", userID)
	require.NoError(t, err)
	assert.False(t, state.CanComplete)
	assert.True(t, state.Ready)
	assert.Equal(t, domain.RoleUser, state.Role)

	state, err = svc.Completion(ctx, "T1", "")
	require.NoError(t, err)
	assert.False(t, state.CanComplete)
	assert.Equal(t, domain.Role(""), state.Role)
}

func TestCompletion_RoleLookupFailurePropagates(t *testing.T) {
	boom := errors.New("connection reset")
	gw := &flakyGateway{Gateway: newBackend(t), getErr: map[string]error{ports.ActorRolePath(managerID): boom}}
	svc := newTestService(gw, nil)

	_, err := svc.Completion(context.Background(), "T1", managerID)
	assert.ErrorIs(t, err, boom)
}

func TestCompleteTask(t *testing.T) {
	gw := newBackend(t)
	pub := &recordingPublisher{}
	svc := newTestService(gw, pub)
	ctx := context.Background()

	_, err := svc.CompleteTask(ctx, "T1", managerID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied, "not all assets counted")

	for _, id := range []string{"A1", "A2", "A3"} {
		_, err := svc.ToggleAsset(ctx, "T1", id, managerID)
		require.NoError(t, err)
	}

	_, err = svc.CompleteTask(ctx, "T1", userID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	done, err := svc.CompleteTask(ctx, "T1", managerID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, fixedNow, *done.CompletedAt)

	reloaded, err := svc.LoadTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, reloaded.Status)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, domain.EventTaskCompleted, last.Type)
	assert.Equal(t, 100, last.Progress.Percent)

	_, err = svc.ToggleAsset(ctx, "T1", "A1", managerID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = svc.CompleteTask(ctx, "T1", managerID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	total, completed := gw.Stats()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, completed)
}

func TestCompleteTask_PublishFailureIsNotFatal(t *testing.T) {
	gw := newBackend(t)
	svc := newTestService(gw, &recordingPublisher{err: errors.New("broker down")})
	ctx := context.Background()
	for _, id := range []string{"A1", "A2", "A3"} {
		_, err := svc.ToggleAsset(ctx, "T1", id, managerID)
		require.NoError(t, err)
	}

	_, err := svc.CompleteTask(ctx, "T1", managerID)
	assert.NoError(t, err)
}

func TestCompleteTask_NoActor(t *testing.T) {
	svc := newTestService(newBackend(t), nil)

	_, err := svc.CompleteTask(context.Background(), "T1", "")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.ErrorIs(t, err, roles.ErrNoActor)
}

func TestActorRole(t *testing.T) {
	svc := newTestService(newBackend(t), nil)

	role, err := svc.ActorRole(context.Background(), managerID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, role)

	role, err = svc.ActorRole(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, role)
}

func TestReport(t *testing.T) {
	svc := newTestService(newBackend(t), nil)

	data, err := svc.Report(context.Background(), []string{"T1", "missing"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func ids(assets []domain.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.ID)
	}
	return out
}
