package domain

import "time"

const (
	EventAssetToggled  = "asset_toggled"
	EventTaskCompleted = "task_completed"
)

// TaskEvent describes a committed change to a task.
type TaskEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TaskID     string    `json:"task_id"`
	AssetID    string    `json:"asset_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Counted    *bool     `json:"counted,omitempty"`
	Progress   Progress  `json:"progress"`
	OccurredAt time.Time `json:"occurred_at"`
}
