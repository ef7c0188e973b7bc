package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/leadkit/automation/internal/action"
	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/engine"
	"github.com/leadkit/automation/internal/event"
	"github.com/leadkit/automation/internal/record"
	"github.com/leadkit/automation/internal/registry"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

type staticRegistry struct {
	automations []*automation.Automation
}

func (s *staticRegistry) ListActive(ctx context.Context, trigger event.TriggerType, campaignID int64) ([]*automation.Automation, error) {
	var out []*automation.Automation
	for _, a := range s.automations {
		if a.IsActive && a.TriggerType == trigger {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *staticRegistry) List(ctx context.Context, campaignID int64) ([]*automation.Automation, error) {
	return s.automations, nil
}

func (s *staticRegistry) Get(ctx context.Context, id int64) (*automation.Automation, error) {
	return nil, registry.ErrNotFound
}

func (s *staticRegistry) Create(ctx context.Context, a *automation.Automation) error {
	return registry.ErrReadOnly
}

func (s *staticRegistry) Update(ctx context.Context, a *automation.Automation) error {
	return registry.ErrReadOnly
}

func (s *staticRegistry) Delete(ctx context.Context, id int64) error { return registry.ErrReadOnly }
func (s *staticRegistry) SetActive(ctx context.Context, id int64, active bool) error {
	return registry.ErrReadOnly
}

type countingHandler struct {
	mu sync.Mutex
	n  int
}

func (h *countingHandler) Type() automation.ActionType { return automation.ActionWebhook }

func (h *countingHandler) Apply(ctx context.Context, inv *action.Invocation) error {
	h.mu.Lock()
	h.n++
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func TestSubscriberDispatchesBusEvents(t *testing.T) {
	url := startTestNATS(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := record.NewMemoryStore()
	h := &countingHandler{}
	handlers := action.NewRegistry()
	handlers.Register(h)

	exec := engine.NewExecutor(ctx, records, handlers, engine.Config{
		Workers: 2, QueueDepth: 16, MaxAttempts: 2,
		BackoffBase: time.Millisecond, BackoffCap: time.Millisecond,
	})
	defer exec.Shutdown()

	reg := &staticRegistry{automations: []*automation.Automation{{
		ID:          1,
		Name:        "bus test",
		TriggerType: event.TriggerNewLead,
		Actions: []automation.Action{
			{Type: automation.ActionWebhook, Webhook: &automation.WebhookConfig{URL: "https://example.com"}},
		},
		IsActive: true,
	}}}
	dispatcher := engine.NewDispatcher(reg, records, exec)

	sub, err := NewSubscriber(url, dispatcher)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting publisher: %v", err)
	}
	defer nc.Close()

	// A malformed payload first: it must be dropped without killing the
	// subscription.
	if err := nc.Publish(SubjectPrefix+".new_lead", []byte(`not json`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	payload := []byte(`{"id":"bus-evt-1","trigger_type":"new_lead","campaign_id":1,"lead_id":42,
		"occurred_at":"2025-06-01T12:00:00Z","payload":{"source":"meta"}}`)
	if err := nc.Publish(SubjectPrefix+".new_lead", payload); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	nc.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.count() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h.count() != 1 {
		t.Fatalf("handler invoked %d times, want 1", h.count())
	}

	recs, err := records.ListByAutomation(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("ListByAutomation: %v", err)
	}
	if len(recs) != 1 || recs[0].Fingerprint != "bus-evt-1" {
		t.Fatalf("records = %+v", recs)
	}
}
