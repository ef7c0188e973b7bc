// Package lead implements the update_lead action against the external
// lead-store collaborator.
package lead

import (
	"context"

	"github.com/leadkit/automation/internal/action"
	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/condition"
)

// Store is the lead-store collaborator. UpdateLead must be idempotent:
// re-applying the same updates yields the same final state, since retries
// may repeat it.
type Store interface {
	UpdateLead(ctx context.Context, leadID int64, updates map[string]string) error
}

// Handler applies update_lead actions.
type Handler struct {
	store Store
}

func New(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Type() automation.ActionType { return automation.ActionUpdateLead }

func (h *Handler) Apply(ctx context.Context, inv *action.Invocation) error {
	cfg := inv.Action.UpdateLead
	if cfg == nil || len(cfg.Updates) == 0 {
		return action.Permanentf("update_lead: no updates configured")
	}
	for field := range cfg.Updates {
		if !condition.KnownField(field) {
			return action.Permanentf("update_lead: field %q is not in the whitelist", field)
		}
	}
	return h.store.UpdateLead(ctx, inv.Event.LeadID, cfg.Updates)
}
