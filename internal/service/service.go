// Package service orchestrates cycle count operations: it loads task
// snapshots through the gateway, applies controller transitions and commits
// them back, one mutation per task at a time.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olgkv/cyclecount/internal/cyclecount"
	"github.com/olgkv/cyclecount/internal/domain"
	"github.com/olgkv/cyclecount/internal/events"
	"github.com/olgkv/cyclecount/internal/metrics"
	"github.com/olgkv/cyclecount/internal/pagination"
	pdfgen "github.com/olgkv/cyclecount/internal/pdf"
	"github.com/olgkv/cyclecount/internal/ports"
	"github.com/olgkv/cyclecount/internal/roles"
	"github.com/olgkv/cyclecount/internal/search"
)

const (
	publishTimeout = 2 * time.Second
	reportWorkers  = 4
)

type Config struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Deps are the collaborators of a Service. Only Gateway and Controller are
// required.
type Deps struct {
	Gateway    ports.Gateway
	Controller *cyclecount.Controller
	Roles      *roles.Resolver
	Events     ports.EventPublisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Service struct {
	gw      ports.Gateway
	ctrl    *cyclecount.Controller
	roles   *roles.Resolver
	events  ports.EventPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
	locks   *taskLocks
	now     func() time.Time
}

func New(d Deps, cfg Config) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Controller == nil {
		d.Controller = cyclecount.NewController(nil, nil)
	}
	if d.Roles == nil {
		d.Roles = roles.NewResolver(d.Gateway, logger, d.Metrics)
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if cfg.DefaultPageSize < 1 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &Service{
		gw:      d.Gateway,
		ctrl:    d.Controller,
		roles:   d.Roles,
		events:  d.Events,
		metrics: d.Metrics,
		logger:  logger.With("component", "service"),
		cfg:     cfg,
		locks:   newTaskLocks(),
		now:     time.Now,
	}
}

// LoadTask fetches the task record and its assets concurrently.
func (s *Service) LoadTask(ctx context.Context, taskID string) (domain.Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return domain.Task{}, fmt.Errorf("%w: empty task id", domain.ErrNotFound)
	}

	var (
		rec    ports.TaskRecord
		assets []domain.Asset
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := s.gw.Get(gctx, ports.TaskPath(taskID))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode task %s: %w", taskID, err)
		}
		return nil
	})
	g.Go(func() error {
		items, err := s.gw.List(gctx, ports.TaskAssetsPath(taskID))
		if err != nil {
			return err
		}
		assets = make([]domain.Asset, 0, len(items))
		for _, raw := range items {
			var a ports.AssetRecord
			if err := json.Unmarshal(raw, &a); err != nil {
				return fmt.Errorf("decode asset of task %s: %w", taskID, err)
			}
			assets = append(assets, a.Asset())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Task{}, notFound(err, "task "+taskID)
	}

	if rec.ID == "" {
		rec.ID = taskID
	}
	task, err := domain.NewTask(rec.ID, rec.Name, rec.Location, rec.Status, assets)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	task.CompletedAt = rec.CompletedAt
	return task, nil
}

type AssetQuery struct {
	Search   string
	Status   string // counted, pending or empty
	Page     int
	PageSize int
}

type AssetPage struct {
	Items    []domain.Asset
	Page     pagination.Page
	Progress domain.Progress
}

// ListAssets narrows the task's assets by status and search text and returns
// the requested page. Progress always covers the whole task.
func (s *Service) ListAssets(ctx context.Context, taskID string, q AssetQuery) (AssetPage, error) {
	task, err := s.LoadTask(ctx, taskID)
	if err != nil {
		return AssetPage{}, err
	}

	size := q.PageSize
	switch {
	case size < 1:
		size = s.cfg.DefaultPageSize
	case size > s.cfg.MaxPageSize:
		size = s.cfg.MaxPageSize
	}

	matched := search.Filter(search.ByStatus(task.Assets, q.Status), q.Search)
	page := pagination.Derive(len(matched), size, q.Page)
	items := pagination.Window(matched, page)
	if items == nil {
		items = []domain.Asset{}
	}
	return AssetPage{Items: items, Page: page, Progress: task.Progress()}, nil
}

// ToggleAsset flips one asset and stores it. When the backend rejects the
// write, or ctx ends before the write is acknowledged, the new value is
// dropped and an error returned.
func (s *Service) ToggleAsset(ctx context.Context, taskID, assetID, actorID string) (domain.Task, error) {
	taskID = strings.TrimSpace(taskID)
	unlock := s.locks.lock(taskID)
	defer unlock()

	task, err := s.LoadTask(ctx, taskID)
	if err != nil {
		s.metrics.Toggle(outcome(err))
		return domain.Task{}, err
	}
	next, err := s.ctrl.ToggleAsset(task, assetID)
	if err != nil {
		s.metrics.Toggle(outcome(err))
		return domain.Task{}, err
	}

	i := next.AssetIndex(assetID)
	if next.Assets[i].Counted {
		at := s.now()
		next.Assets[i].CountedAt, next.Assets[i].CountedBy = &at, actorID
	} else {
		next.Assets[i].CountedAt, next.Assets[i].CountedBy = nil, ""
	}
	asset := next.Assets[i]
	if err := s.gw.Put(ctx, ports.TaskAssetPath(task.ID, assetID), ports.NewAssetRecord(asset)); err != nil {
		s.metrics.Toggle(metrics.OutcomePersistFailed)
		s.logger.Warn("toggle not persisted", "task_id", task.ID, "asset_id", assetID, "error", err)
		return domain.Task{}, fmt.Errorf("persist asset %s: %w", assetID, notFound(err, "task "+task.ID))
	}
	if err := ctx.Err(); err != nil {
		s.metrics.Toggle(metrics.OutcomeCancelled)
		return domain.Task{}, err
	}

	s.metrics.Toggle(metrics.OutcomeOK)
	counted := asset.Counted
	s.publish(ctx, domain.TaskEvent{
		Type:     domain.EventAssetToggled,
		TaskID:   task.ID,
		AssetID:  assetID,
		ActorID:  actorID,
		Counted:  &counted,
		Progress: next.Progress(),
	})
	return next, nil
}

// Completion is the state of the completion gate for one actor.
type Completion struct {
	CanComplete bool
	Ready       bool
	Role        domain.Role
	Counted     int
	Total       int
}

// Completion evaluates the gate. An unknown actor yields a closed gate
// rather than an error.
func (s *Service) Completion(ctx context.Context, taskID, actorID string) (Completion, error) {
	task, role, err := s.loadWithRole(ctx, taskID, actorID)
	if err != nil && !errors.Is(err, roles.ErrNoActor) {
		return Completion{}, err
	}

	progress := task.Progress()
	return Completion{
		CanComplete: err == nil && s.ctrl.CanComplete(task, role),
		Ready:       s.ctrl.Ready(task),
		Role:        role,
		Counted:     progress.Counted,
		Total:       progress.Total,
	}, nil
}

// CompleteTask closes the task on behalf of actorID and announces it.
func (s *Service) CompleteTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	taskID = strings.TrimSpace(taskID)
	unlock := s.locks.lock(taskID)
	defer unlock()

	task, role, err := s.loadWithRole(ctx, taskID, actorID)
	if errors.Is(err, roles.ErrNoActor) {
		err = fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	if err != nil {
		s.metrics.Completion(outcome(err))
		return domain.Task{}, err
	}

	done, err := s.ctrl.CompleteTask(task, role, s.now())
	if err != nil {
		s.metrics.Completion(outcome(err))
		return domain.Task{}, err
	}
	if err := s.gw.Put(ctx, ports.TaskPath(done.ID), ports.NewTaskRecord(done)); err != nil {
		s.metrics.Completion(metrics.OutcomePersistFailed)
		s.logger.Warn("completion not persisted", "task_id", done.ID, "error", err)
		return domain.Task{}, fmt.Errorf("persist task %s: %w", done.ID, notFound(err, "task "+done.ID))
	}
	if err := ctx.Err(); err != nil {
		s.metrics.Completion(metrics.OutcomeCancelled)
		return domain.Task{}, err
	}

	s.metrics.Completion(metrics.OutcomeOK)
	s.logger.Info("task completed", "task_id", done.ID, "actor_id", actorID, "role", role)
	s.publish(ctx, domain.TaskEvent{
		Type:       domain.EventTaskCompleted,
		TaskID:     done.ID,
		ActorID:    actorID,
		Progress:   done.Progress(),
		OccurredAt: *done.CompletedAt,
	})
	return done, nil
}

func (s *Service) ActorRole(ctx context.Context, actorID string) (domain.Role, error) {
	return s.roles.Resolve(ctx, actorID)
}

// Report renders the given tasks into a PDF. Unknown task ids are skipped.
func (s *Service) Report(ctx context.Context, taskIDs []string) ([]byte, error) {
	tasks := make([]domain.Task, len(taskIDs))
	found := make([]bool, len(taskIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportWorkers)
	for i, id := range taskIDs {
		g.Go(func() error {
			task, err := s.LoadTask(gctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			tasks[i], found[i] = task, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Task, 0, len(tasks))
	for i := range tasks {
		if found[i] {
			out = append(out, tasks[i])
		}
	}
	return pdfgen.BuildCountReport(out)
}

// loadWithRole loads the task and resolves the role concurrently. On
// roles.ErrNoActor the task is still returned.
func (s *Service) loadWithRole(ctx context.Context, taskID, actorID string) (domain.Task, domain.Role, error) {
	var (
		task    domain.Task
		role    domain.Role
		roleErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		task, err = s.LoadTask(gctx, taskID)
		return err
	})
	g.Go(func() error {
		role, roleErr = s.roles.Resolve(gctx, actorID)
		if errors.Is(roleErr, roles.ErrNoActor) {
			return nil
		}
		return roleErr
	})
	if err := g.Wait(); err != nil {
		return domain.Task{}, "", err
	}
	return task, role, roleErr
}

func (s *Service) publish(ctx context.Context, event domain.TaskEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("publish event failed", "type", event.Type, "task_id", event.TaskID, "error", err)
	}
}

// notFound adds domain.ErrNotFound to gateway not-found errors.
func notFound(err error, what string) error {
	if errors.Is(err, ports.ErrNotFound) && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", domain.ErrNotFound, what, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return metrics.OutcomeDenied
	case errors.Is(err, domain.ErrInvalidState):
		return metrics.OutcomeInvalidState
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeError
	}
}
