package ports

import (
	"time"

	"github.com/olgkv/cyclecount/internal/domain"
)

// TaskRecord is the stored form of a task without its assets.
type TaskRecord struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Location    string            `json:"location,omitempty"`
	Status      domain.TaskStatus `json:"status"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// AssetRecord is the stored form of an asset within a task.
type AssetRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Barcode   string     `json:"barcode,omitempty"`
	Location  string     `json:"location,omitempty"`
	Category  string     `json:"category,omitempty"`
	Counted   bool       `json:"counted"`
	CountedAt *time.Time `json:"counted_at,omitempty"`
	CountedBy string     `json:"counted_by,omitempty"`
}

// RoleRecord is the stored role of an actor.
type RoleRecord struct {
	Role string `json:"role"`
}

func NewTaskRecord(t domain.Task) TaskRecord {
	return TaskRecord{
		ID:          t.ID,
		Name:        t.Name,
		Location:    t.Location,
		Status:      t.Status,
		CompletedAt: t.CompletedAt,
	}
}

func NewAssetRecord(a domain.Asset) AssetRecord {
	return AssetRecord(a)
}

func (r AssetRecord) Asset() domain.Asset {
	return domain.Asset(r)
}
