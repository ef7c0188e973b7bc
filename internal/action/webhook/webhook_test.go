package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadkit/automation/internal/action"
	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
)

func testHandler(client *http.Client) *Handler {
	return &Handler{client: client, allowLoopback: true}
}

func invocation(url string) *action.Invocation {
	return &action.Invocation{
		Automation: &automation.Automation{ID: 12, Name: "notify-crm"},
		Action: automation.Action{
			Type:    automation.ActionWebhook,
			Webhook: &automation.WebhookConfig{URL: url},
		},
		Event: &event.Event{
			TriggerType: event.TriggerNewLead,
			LeadID:      7,
			OccurredAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Payload:     map[string]string{"source": "meta", "email": "jane@example.com"},
		},
	}
}

func TestApplyPostsPayloadAndMetadata(t *testing.T) {
	var got body
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := testHandler(srv.Client())
	if err := h.Apply(context.Background(), invocation(srv.URL)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.AutomationID != 12 || got.AutomationName != "notify-crm" {
		t.Errorf("automation metadata = %d %q", got.AutomationID, got.AutomationName)
	}
	if got.LeadID != 7 || got.TriggerType != event.TriggerNewLead {
		t.Errorf("event metadata = %d %q", got.LeadID, got.TriggerType)
	}
	if got.Payload["source"] != "meta" {
		t.Errorf("payload = %v", got.Payload)
	}
}

func TestApplyClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
		permanent bool
	}{
		{"ok", http.StatusOK, false, false},
		{"accepted", http.StatusAccepted, false, false},
		{"server error", http.StatusInternalServerError, true, false},
		{"unavailable", http.StatusServiceUnavailable, true, false},
		{"bad request", http.StatusBadRequest, false, true},
		{"gone", http.StatusGone, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := testHandler(srv.Client()).Apply(context.Background(), invocation(srv.URL))
			if action.IsTransient(err) != tc.transient {
				t.Errorf("IsTransient = %v, want %v (err %v)", action.IsTransient(err), tc.transient, err)
			}
			if action.IsPermanent(err) != tc.permanent {
				t.Errorf("IsPermanent = %v, want %v (err %v)", action.IsPermanent(err), tc.permanent, err)
			}
		})
	}
}

func TestApplyConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listens anymore

	err := testHandler(&http.Client{Timeout: time.Second}).Apply(context.Background(), invocation(url))
	if !action.IsTransient(err) {
		t.Fatalf("Apply err = %v, want transient", err)
	}
}

func TestApplyRejectsUnsafeTargets(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	h := New() // production policy
	for _, target := range []string{
		"ftp://internal",
		"file:///etc/passwd",
		"https://localhost/hook",
		"http://127.0.0.1:9/hook",
		"http://[::1]/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://0.0.0.0/",
		"not a url ://",
	} {
		err := h.Apply(context.Background(), invocation(target))
		if !action.IsPermanent(err) {
			t.Errorf("Apply(%q) err = %v, want permanent", target, err)
		}
	}
	if calls != 0 {
		t.Errorf("unsafe targets caused %d network calls, want 0", calls)
	}
}

// Hostnames that resolve to internal addresses pass the URL check but must
// be refused when the connection is made.
func TestDialControlRejectsResolvedInternalAddresses(t *testing.T) {
	for _, addr := range []string{
		"127.0.0.1:80",
		"[::1]:443",
		"169.254.169.254:80",
		"0.0.0.0:9",
		"not-an-address",
	} {
		if err := safeDialControl("tcp", addr, nil); !errors.Is(err, errUnsafeTarget) {
			t.Errorf("safeDialControl(%q) = %v, want refusal", addr, err)
		}
	}
	if err := safeDialControl("tcp", "93.184.216.34:443", nil); err != nil {
		t.Errorf("safeDialControl(public address) = %v, want nil", err)
	}
}

type refusingTransport struct{}

func (refusingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("dial tcp 127.0.0.1:80: %w", errUnsafeTarget)
}

func TestApplyResolvedUnsafeTargetIsPermanent(t *testing.T) {
	h := &Handler{client: &http.Client{Transport: refusingTransport{}}}
	err := h.Apply(context.Background(), invocation("http://internal.example.com/hook"))
	if !action.IsPermanent(err) {
		t.Fatalf("Apply err = %v, want permanent (no retries against refused destinations)", err)
	}
}

func TestApplyMissingURLIsPermanent(t *testing.T) {
	h := New()
	inv := invocation("")
	inv.Action.Webhook = nil
	if err := h.Apply(context.Background(), inv); !action.IsPermanent(err) {
		t.Fatalf("Apply err = %v, want permanent", err)
	}
}
