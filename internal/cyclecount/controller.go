// Package cyclecount holds the state transitions of a cycle count task.
//
// The controller is pure: it takes a task snapshot and returns a new one. It
// never persists anything; callers commit the returned value after the
// backend accepted it, and simply drop it otherwise.
package cyclecount

import (
	"fmt"
	"time"

	"github.com/olgkv/cyclecount/internal/domain"
	"github.com/olgkv/cyclecount/internal/roles"
)

type Controller struct {
	ready     Readiness
	permitted roles.Set
}

// NewController builds a controller. A nil readiness predicate means AllCounted.
func NewController(ready Readiness, permitted roles.Set) *Controller {
	if ready == nil {
		ready = AllCounted
	}
	if permitted == nil {
		permitted = roles.NewSet()
	}
	return &Controller{ready: ready, permitted: permitted}
}

// ToggleAsset flips the counted flag of one asset of an open task.
func (c *Controller) ToggleAsset(task domain.Task, assetID string) (domain.Task, error) {
	if !task.IsOpen() {
		return task, fmt.Errorf("%w: task %s is %s", domain.ErrInvalidState, task.ID, task.Status)
	}
	i := task.AssetIndex(assetID)
	if i < 0 {
		return task, fmt.Errorf("%w: asset %s in task %s", domain.ErrNotFound, assetID, task.ID)
	}

	next := task.Clone()
	next.Assets[i].Counted = !next.Assets[i].Counted
	return next, nil
}

// Ready reports whether the count itself satisfies the readiness policy.
func (c *Controller) Ready(task domain.Task) bool {
	return c.ready(task.Assets)
}

// Permitted reports whether role may complete tasks.
func (c *Controller) Permitted(role domain.Role) bool {
	return c.permitted.Contains(role)
}

// CanComplete gates the completion action: the task must be open, ready, and
// the role permitted. It never fails.
func (c *Controller) CanComplete(task domain.Task, role domain.Role) bool {
	return task.IsOpen() && c.Ready(task) && c.Permitted(role)
}

// CompleteTask moves an open task to completed. The gate is evaluated again
// here, whatever the caller checked before.
func (c *Controller) CompleteTask(task domain.Task, role domain.Role, now time.Time) (domain.Task, error) {
	if !task.IsOpen() {
		return task, fmt.Errorf("%w: task %s is %s", domain.ErrInvalidState, task.ID, task.Status)
	}
	if !c.CanComplete(task, role) {
		return task, fmt.Errorf("%w: role %q cannot complete task %s", domain.ErrPermissionDenied, role, task.ID)
	}

	next := task.Clone()
	next.Status = domain.StatusCompleted
	at := now.UTC()
	next.CompletedAt = &at
	return next, nil
}
