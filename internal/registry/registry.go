// Package registry stores automation definitions and serves the dispatcher
// a consistent snapshot of the active ones. Mutation is owned by the
// management API; the engine's dispatch path only reads.
package registry

import (
	"context"
	"errors"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
)

// ErrNotFound is returned when an automation id does not exist.
var ErrNotFound = errors.New("automation not found")

// ErrReadOnly is returned by mutating operations on registries that do not
// support management writes (the file-backed registry).
var ErrReadOnly = errors.New("registry is read-only")

// Registry is the automation store. ListActive is the dispatch-time read;
// the remaining operations back the management API.
type Registry interface {
	// ListActive returns active automations for the trigger whose
	// campaign_id is nil (global) or equals campaignID, ordered by
	// ascending id for deterministic execution order.
	ListActive(ctx context.Context, trigger event.TriggerType, campaignID int64) ([]*automation.Automation, error)

	// List returns all automations, optionally filtered by campaign
	// (campaignID 0 means no filter).
	List(ctx context.Context, campaignID int64) ([]*automation.Automation, error)
	Get(ctx context.Context, id int64) (*automation.Automation, error)
	Create(ctx context.Context, a *automation.Automation) error
	Update(ctx context.Context, a *automation.Automation) error
	Delete(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
}
