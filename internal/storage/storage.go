package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/olgkv/cyclecount/internal/domain"
	"github.com/olgkv/cyclecount/internal/ports"
)

type SnapshotRepository interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
}

// FileGateway serves ports.Gateway from an in-memory dataset that is
// written through to a SnapshotRepository on every Put.
type FileGateway struct {
	mu    sync.RWMutex
	repo  SnapshotRepository
	order []string
	tasks map[string]*TaskDocument
	roles map[string]string
}

func NewFileGateway(repo SnapshotRepository) *FileGateway {
	return &FileGateway{
		repo:  repo,
		tasks: make(map[string]*TaskDocument),
		roles: make(map[string]string),
	}
}

func (g *FileGateway) Load() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, err := g.repo.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for i := range snap.Tasks {
		doc := snap.Tasks[i]
		if doc.ID == "" {
			return fmt.Errorf("load snapshot: task #%d has no id", i)
		}
		if _, dup := g.tasks[doc.ID]; dup {
			return fmt.Errorf("load snapshot: duplicate task %q", doc.ID)
		}
		if doc.Assets == nil {
			doc.Assets = []ports.AssetRecord{}
		}
		g.order = append(g.order, doc.ID)
		g.tasks[doc.ID] = &doc
	}
	for actor, role := range snap.Roles {
		g.roles[actor] = role
	}
	return nil
}

func (g *FileGateway) persistLocked() error {
	snap := &Snapshot{
		Tasks: make([]TaskDocument, 0, len(g.order)),
		Roles: g.roles,
	}
	for _, id := range g.order {
		snap.Tasks = append(snap.Tasks, *g.tasks[id])
	}
	return g.repo.Save(snap)
}

func (g *FileGateway) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := ports.ParseResource(path)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out any
	switch res.Kind {
	case ports.KindTask:
		doc, ok := g.tasks[res.TaskID]
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
		}
		out = doc.TaskRecord
	case ports.KindTaskAssets:
		doc, ok := g.tasks[res.TaskID]
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
		}
		out = doc.Assets
	case ports.KindTaskAsset:
		doc, ok := g.tasks[res.TaskID]
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
		}
		idx := assetIndex(doc.Assets, res.AssetID)
		if idx < 0 {
			return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
		}
		out = doc.Assets[idx]
	case ports.KindActorRole:
		role, ok := g.roles[res.ActorID]
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
		}
		out = ports.RoleRecord{Role: role}
	}
	return json.Marshal(out)
}

func (g *FileGateway) List(ctx context.Context, path string) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := ports.ParseResource(path)
	if err != nil {
		return nil, err
	}
	if res.Kind != ports.KindTaskAssets {
		return nil, fmt.Errorf("list %s: %s is not a collection", path, res.Kind)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	doc, ok := g.tasks[res.TaskID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ports.ErrNotFound)
	}
	items := make([]json.RawMessage, 0, len(doc.Assets))
	for _, a := range doc.Assets {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		items = append(items, raw)
	}
	return items, nil
}

// Put upserts the record at path. The in-memory state is rolled back when
// the snapshot cannot be written.
func (g *FileGateway) Put(ctx context.Context, path string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := ports.ParseResource(path)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var undo func()
	switch res.Kind {
	case ports.KindTask:
		var rec ports.TaskRecord
		if err := decodeRecord(payload, &rec, &rec.ID, res.TaskID); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
		if doc, ok := g.tasks[res.TaskID]; ok {
			prev := doc.TaskRecord
			doc.TaskRecord = rec
			undo = func() { doc.TaskRecord = prev }
		} else {
			g.tasks[res.TaskID] = &TaskDocument{TaskRecord: rec, Assets: []ports.AssetRecord{}}
			g.order = append(g.order, res.TaskID)
			undo = func() {
				delete(g.tasks, res.TaskID)
				g.order = g.order[:len(g.order)-1]
			}
		}

	case ports.KindTaskAsset:
		doc, ok := g.tasks[res.TaskID]
		if !ok {
			return fmt.Errorf("%s: %w", ports.TaskPath(res.TaskID), ports.ErrNotFound)
		}
		var rec ports.AssetRecord
		if err := decodeRecord(payload, &rec, &rec.ID, res.AssetID); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
		if idx := assetIndex(doc.Assets, rec.ID); idx >= 0 {
			prev := doc.Assets[idx]
			doc.Assets[idx] = rec
			undo = func() { doc.Assets[idx] = prev }
		} else {
			doc.Assets = append(doc.Assets, rec)
			undo = func() { doc.Assets = doc.Assets[:len(doc.Assets)-1] }
		}

	case ports.KindActorRole:
		var rec ports.RoleRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
		prev, had := g.roles[res.ActorID]
		g.roles[res.ActorID] = rec.Role
		undo = func() {
			if had {
				g.roles[res.ActorID] = prev
			} else {
				delete(g.roles, res.ActorID)
			}
		}

	default:
		return fmt.Errorf("put %s: %s is not writable", path, res.Kind)
	}

	if err := g.persistLocked(); err != nil {
		undo()
		return fmt.Errorf("persist %s: %w", path, err)
	}
	return nil
}

// Stats returns the number of tasks and how many of them are completed.
func (g *FileGateway) Stats() (total int, completed int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, doc := range g.tasks {
		total++
		if doc.Status == domain.StatusCompleted {
			completed++
		}
	}
	return total, completed
}

// decodeRecord fills dst from payload; an empty id takes the one from the
// path, a different one is rejected.
func decodeRecord(payload []byte, dst any, id *string, pathID string) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return err
	}
	switch *id {
	case "":
		*id = pathID
	case pathID:
	default:
		return fmt.Errorf("record id %q does not match path id %q", *id, pathID)
	}
	return nil
}

func assetIndex(assets []ports.AssetRecord, id string) int {
	for i := range assets {
		if assets[i].ID == id {
			return i
		}
	}
	return -1
}
