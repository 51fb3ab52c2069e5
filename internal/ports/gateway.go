package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by gateways when the requested resource does not
// exist. It must stay distinguishable from transport failures.
var ErrNotFound = errors.New("gateway: resource not found")

// Gateway is the request/response client to the backend store.
type Gateway interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	List(ctx context.Context, path string) ([]json.RawMessage, error)
	Put(ctx context.Context, path string, record any) error
}

type ResourceKind int

const (
	KindTask ResourceKind = iota + 1
	KindTaskAssets
	KindTaskAsset
	KindActorRole
)

func (k ResourceKind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindTaskAssets:
		return "task_assets"
	case KindTaskAsset:
		return "task_asset"
	case KindActorRole:
		return "actor_role"
	default:
		return "unknown"
	}
}

// Resource is a parsed gateway path.
type Resource struct {
	Kind    ResourceKind
	TaskID  string
	AssetID string
	ActorID string
}

func TaskPath(taskID string) string {
	return "tasks/" + taskID
}

func TaskAssetsPath(taskID string) string {
	return "tasks/" + taskID + "/assets"
}

func TaskAssetPath(taskID, assetID string) string {
	return "tasks/" + taskID + "/assets/" + assetID
}

func ActorRolePath(actorID string) string {
	return "users/" + actorID + "/role"
}

// ParseResource decodes a path built by the helpers above.
func ParseResource(path string) (Resource, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, p := range parts {
		if p == "" {
			return Resource{}, fmt.Errorf("invalid resource path %q", path)
		}
	}

	switch {
	case len(parts) == 2 && parts[0] == "tasks":
		return Resource{Kind: KindTask, TaskID: parts[1]}, nil
	case len(parts) == 3 && parts[0] == "tasks" && parts[2] == "assets":
		return Resource{Kind: KindTaskAssets, TaskID: parts[1]}, nil
	case len(parts) == 4 && parts[0] == "tasks" && parts[2] == "assets":
		return Resource{Kind: KindTaskAsset, TaskID: parts[1], AssetID: parts[3]}, nil
	case len(parts) == 3 && parts[0] == "users" && parts[2] == "role":
		return Resource{Kind: KindActorRole, ActorID: parts[1]}, nil
	}
	return Resource{}, fmt.Errorf("invalid resource path %q", path)
}
