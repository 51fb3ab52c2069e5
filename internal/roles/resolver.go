// Package roles resolves the effective authorization role of an actor.
package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/olgkv/cyclecount/internal/domain"
	"github.com/olgkv/cyclecount/internal/metrics"
	"github.com/olgkv/cyclecount/internal/ports"
)

var (
	// ErrNoActor is returned when no actor is known yet. No lookup is made.
	ErrNoActor = errors.New("roles: actor not known")
	// ErrMalformedRecord is returned when the stored role record has an unexpected shape.
	ErrMalformedRecord = errors.New("roles: malformed role record")
)

const roleRecordSchema = `{
	"type": "object",
	"properties": {
		"role": {"type": ["string", "null"]}
	}
}`

var recordSchema = jsonschema.MustCompileString("role-record.json", roleRecordSchema)

type Resolver struct {
	gw      ports.Gateway
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewResolver(gw ports.Gateway, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{gw: gw, logger: logger.With("component", "role_resolver"), metrics: m}
}

// Resolve returns the stored role of actorID. An actor without a stored role
// resolves to domain.DefaultRole; every other gateway failure is returned to
// the caller, still matching the original error with errors.Is.
func (r *Resolver) Resolve(ctx context.Context, actorID string) (domain.Role, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", ErrNoActor
	}

	raw, err := r.gw.Get(ctx, ports.ActorRolePath(actorID))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			r.logger.Debug("no stored role, using default", "actor_id", actorID, "role", domain.DefaultRole)
			r.metrics.RoleResolution(metrics.OutcomeDefault)
			return domain.DefaultRole, nil
		}
		r.logger.Warn("role lookup failed", "actor_id", actorID, "error", err)
		r.metrics.RoleResolution(metrics.OutcomeError)
		return "", fmt.Errorf("resolve role for %s: %w", actorID, err)
	}

	role, err := decodeRole(raw)
	if err != nil {
		r.metrics.RoleResolution(metrics.OutcomeError)
		return "", fmt.Errorf("resolve role for %s: %w", actorID, err)
	}
	if strings.TrimSpace(string(role)) == "" {
		r.metrics.RoleResolution(metrics.OutcomeDefault)
		return domain.DefaultRole, nil
	}

	r.metrics.RoleResolution(metrics.OutcomeStored)
	return role, nil
}

func decodeRole(raw json.RawMessage) (domain.Role, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := recordSchema.Validate(doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var rec ports.RoleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return domain.Role(rec.Role), nil
}

// Set holds the roles allowed to perform a gated action.
type Set map[domain.Role]struct{}

func NewSet(roles ...domain.Role) Set {
	s := make(Set, len(roles))
	for _, r := range roles {
		if r = domain.Role(strings.TrimSpace(string(r))); r != "" {
			s[r] = struct{}{}
		}
	}
	return s
}

// ParseSet reads a comma separated role list such as "admin,manager".
func ParseSet(list string) Set {
	var rs []domain.Role
	for _, part := range strings.Split(list, ",") {
		rs = append(rs, domain.Role(strings.ToLower(strings.TrimSpace(part))))
	}
	return NewSet(rs...)
}

func (s Set) Contains(r domain.Role) bool {
	_, ok := s[r]
	return ok
}
