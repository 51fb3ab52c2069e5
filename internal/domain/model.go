package domain

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusOpen      TaskStatus = "open"
	StatusCompleted TaskStatus = "completed"
)

// Role is the authorization level of the actor performing an action.
type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// DefaultRole is assigned to actors without a stored role record.
const DefaultRole = RoleUser

// Asset is one expected item of a task. CountedAt and CountedBy are set
// while the asset is counted and cleared when the count is undone.
type Asset struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Barcode   string     `json:"barcode,omitempty"`
	Location  string     `json:"location,omitempty"`
	Category  string     `json:"category,omitempty"`
	Counted   bool       `json:"counted"`
	CountedAt *time.Time `json:"counted_at,omitempty"`
	CountedBy string     `json:"counted_by,omitempty"`
}

// Task is an immutable snapshot of a cycle count task. Operations that change
// a task return a new value and leave the receiver untouched.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Location    string     `json:"location,omitempty"`
	Status      TaskStatus `json:"status"`
	Assets      []Asset    `json:"assets"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask builds a task snapshot, rejecting duplicate asset IDs.
// An empty status is treated as open.
func NewTask(id, name, location string, status TaskStatus, assets []Asset) (Task, error) {
	if id == "" {
		return Task{}, fmt.Errorf("task id is required")
	}
	switch status {
	case "":
		status = StatusOpen
	case StatusOpen, StatusCompleted:
	default:
		return Task{}, fmt.Errorf("task %s: unknown status %q", id, status)
	}

	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if a.ID == "" {
			return Task{}, fmt.Errorf("task %s: asset without id", id)
		}
		if _, dup := seen[a.ID]; dup {
			return Task{}, fmt.Errorf("task %s: duplicate asset %s", id, a.ID)
		}
		seen[a.ID] = struct{}{}
	}

	return Task{
		ID:       id,
		Name:     name,
		Location: location,
		Status:   status,
		Assets:   CopyAssets(assets),
	}, nil
}

// Clone returns a deep copy so that callers can derive a new snapshot safely.
func (t Task) Clone() Task {
	c := t
	c.Assets = CopyAssets(t.Assets)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}

// AssetIndex returns the position of the asset with the given id, or -1.
func (t Task) AssetIndex(assetID string) int {
	for i := range t.Assets {
		if t.Assets[i].ID == assetID {
			return i
		}
	}
	return -1
}

func (t Task) IsOpen() bool {
	return t.Status == StatusOpen
}

// Progress summarizes how far the count has gone.
type Progress struct {
	Counted            int `json:"counted"`
	Total              int `json:"total"`
	Percent            int `json:"percent"`
	LocationMismatches int `json:"location_mismatches"`
}

// Progress counts counted assets and, among them, those whose recorded
// location differs from the task location. Percent is rounded to the nearest integer.
func (t Task) Progress() Progress {
	p := Progress{Total: len(t.Assets)}
	for _, a := range t.Assets {
		if !a.Counted {
			continue
		}
		p.Counted++
		if t.Location != "" && a.Location != "" && a.Location != t.Location {
			p.LocationMismatches++
		}
	}
	if p.Total > 0 {
		p.Percent = (p.Counted*100 + p.Total/2) / p.Total
	}
	return p
}

func CopyAssets(src []Asset) []Asset {
	if src == nil {
		return nil
	}
	dst := make([]Asset, len(src))
	copy(dst, src)
	for i := range dst {
		if at := dst[i].CountedAt; at != nil {
			c := *at
			dst[i].CountedAt = &c
		}
	}
	return dst
}
