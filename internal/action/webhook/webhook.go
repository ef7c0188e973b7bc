// Package webhook implements the webhook action: an HTTP POST of the event
// payload and automation metadata to a user-configured URL. Targets are
// validated against a safety policy before any network I/O so the engine
// cannot be used to probe internal networks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/leadkit/automation/internal/action"
	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
)

// body is the JSON document POSTed to the target.
type body struct {
	AutomationID   int64             `json:"automation_id"`
	AutomationName string            `json:"automation_name"`
	LeadID         int64             `json:"lead_id"`
	TriggerType    event.TriggerType `json:"trigger_type"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Payload        map[string]string `json:"payload"`
}

// Handler applies webhook actions.
type Handler struct {
	client *http.Client
	// allowLoopback relaxes the target policy for tests that POST to
	// httptest servers.
	allowLoopback bool
}

// errUnsafeTarget marks connections refused by the safety policy at dial
// time, after DNS resolution.
var errUnsafeTarget = errors.New("destination refused by safety policy")

// safeDialControl rejects loopback, link-local, and unspecified destination
// addresses at connect time. Hostname checks alone are not enough: a public
// DNS name can resolve to 127.0.0.1 or 169.254.0.0/16, and rebinding can
// swap the answer between validation and dial.
func safeDialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("webhook: %s: %w", address, errUnsafeTarget)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("webhook: %s: %w", host, errUnsafeTarget)
	}
	return nil
}

func New() *Handler {
	h := &Handler{}
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: safeDialControl,
	}
	h.client = &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Redirects may only land on HTTPS targets that still
			// pass the safety policy.
			if req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to non-HTTPS target %s refused", req.URL)
			}
			return h.checkTarget(req.URL)
		},
	}
	return h
}

func (h *Handler) Type() automation.ActionType { return automation.ActionWebhook }

func (h *Handler) Apply(ctx context.Context, inv *action.Invocation) error {
	cfg := inv.Action.Webhook
	if cfg == nil || cfg.URL == "" {
		return action.Permanentf("webhook: missing url")
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return action.Permanentf("webhook: invalid url %q: %v", cfg.URL, err)
	}
	if err := h.checkTarget(target); err != nil {
		return action.Permanent(err)
	}

	payload, err := json.Marshal(body{
		AutomationID:   inv.Automation.ID,
		AutomationName: inv.Automation.Name,
		LeadID:         inv.Event.LeadID,
		TriggerType:    inv.Event.TriggerType,
		OccurredAt:     inv.Event.OccurredAt,
		Payload:        inv.Event.Payload,
	})
	if err != nil {
		return action.Permanentf("webhook: encode body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return action.Permanentf("webhook: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, errUnsafeTarget) {
			return action.Permanentf("webhook: %v", err)
		}
		return action.Transientf("webhook: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return action.Transientf("webhook: %s returned %d", target.Host, resp.StatusCode)
	default:
		return action.Permanentf("webhook: %s returned %d", target.Host, resp.StatusCode)
	}
}

// checkTarget rejects URLs that fail the safety policy without any network
// I/O: HTTP(S) schemes only, and no literal loopback, link-local, or
// unspecified hosts. Hostnames that resolve to such addresses are caught by
// safeDialControl at connect time.
func (h *Handler) checkTarget(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook: scheme %q is not allowed (http and https only)", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook: url %q has no host", u)
	}
	if h.allowLoopback {
		return nil
	}
	if host == "localhost" {
		return fmt.Errorf("webhook: loopback target %q refused", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("webhook: target %s refused by safety policy", ip)
		}
	}
	return nil
}
