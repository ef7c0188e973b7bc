package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/leadkit/automation/internal/condition"
	"github.com/leadkit/automation/internal/event"
	"github.com/leadkit/automation/internal/metrics"
	"github.com/leadkit/automation/internal/record"
	"github.com/leadkit/automation/internal/registry"
)

// DispatchResult is the outcome of dispatching a single event.
type DispatchResult struct {
	EventID     string  `json:"event_id"`
	Fingerprint string  `json:"fingerprint"`
	DurationMs  int64   `json:"duration_ms"`
	MatchedIDs  []int64 `json:"matched_automations"`
	Enqueued    int     `json:"enqueued"`
	Deduped     int     `json:"deduped"`
	Rejected    int     `json:"rejected"`
}

// Dispatcher matches incoming events against the registry and hands matched
// work to the executor. It guarantees at most one full execution per
// (automation, event) pair under normal operation, with at-least-once
// attempts under retry and redelivery.
type Dispatcher struct {
	reg     registry.Registry
	records record.Store
	exec    *Executor
}

func NewDispatcher(reg registry.Registry, records record.Store, exec *Executor) *Dispatcher {
	return &Dispatcher{reg: reg, records: records, exec: exec}
}

// Dispatch validates ev, selects matching automations, creates execution
// records idempotently, and enqueues them. It returns a
// *event.ValidationError for malformed events and an *UnavailableError when
// the registry or storage is unreachable — in the latter case nothing has
// been enqueued and the source should redeliver.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.Event) (*DispatchResult, error) {
	start := time.Now()

	if err := event.Validate(ev); err != nil {
		metrics.EventsInvalid.Inc()
		return nil, err
	}
	metrics.EventsReceived.Inc()

	candidates, err := d.reg.ListActive(ctx, ev.TriggerType, ev.CampaignID)
	if err != nil {
		return nil, Unavailable(fmt.Errorf("list automations: %w", err))
	}

	fp := ev.Fingerprint()
	res := &DispatchResult{EventID: ev.ID, Fingerprint: fp}

	// First pass: create records for every match. If storage fails here
	// the dispatch is refused as a whole; nothing has been enqueued yet
	// and already-created pending records are resumed on redelivery.
	var tasks []*Task
	for _, a := range candidates {
		if !condition.Evaluate(ev.Payload, a.TriggerConfig.Conditions) {
			continue
		}
		res.MatchedIDs = append(res.MatchedIDs, a.ID)
		metrics.AutomationsMatched.WithLabelValues(strconv.FormatInt(a.ID, 10)).Inc()

		rec := &record.ExecutionRecord{
			AutomationID: a.ID,
			Fingerprint:  fp,
			LeadID:       ev.LeadID,
			TriggerType:  ev.TriggerType,
			Status:       record.StatusPending,
		}
		err := d.records.Create(ctx, rec)
		var dup *record.DuplicateError
		switch {
		case err == nil:
			tasks = append(tasks, &Task{Automation: a, Event: ev, Record: rec})
		case errors.As(err, &dup):
			if dup.Existing.Status.Terminal() {
				// Already fully executed (or terminally failed):
				// redelivery must not run side effects again.
				metrics.ExecutionsDeduped.Inc()
				res.Deduped++
				continue
			}
			// A pending or retrying record from an earlier delivery:
			// resume it rather than starting over. The executor
			// re-reads the record and picks up at its action index.
			tasks = append(tasks, &Task{Automation: a, Event: ev, Record: dup.Existing})
		default:
			return nil, Unavailable(fmt.Errorf("create execution record: %w", err))
		}
	}

	// Second pass: hand records to the worker pool. Intake never blocks;
	// rejected tasks stay pending and resume on redelivery.
	for _, t := range tasks {
		if d.exec.Enqueue(t) {
			res.Enqueued++
		} else {
			metrics.EventsDropped.Inc()
			res.Rejected++
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.DispatchDuration.Observe(float64(res.DurationMs))
	return res, nil
}
