// Package automation defines the durable automation entity: a trigger, a
// condition set, and an ordered list of side-effecting actions.
package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leadkit/automation/internal/condition"
	"github.com/leadkit/automation/internal/event"
)

// ActionType discriminates the closed set of action kinds. Adding a kind
// means a new constant, a config struct, and cases in the wire conversion —
// all compile-time checked, never a silent no-op for unknown types.
type ActionType string

const (
	ActionSendEmail  ActionType = "send_email"
	ActionUpdateLead ActionType = "update_lead"
	ActionWebhook    ActionType = "webhook"
)

// SendEmailConfig renders and sends an email for the matched lead.
// To supports {{field}} interpolation from the event payload.
type SendEmailConfig struct {
	TemplateID int64  `json:"template_id"`
	To         string `json:"to"`
}

// UpdateLeadConfig applies field updates to the lead the event references.
type UpdateLeadConfig struct {
	Updates map[string]string `json:"updates"`
}

// WebhookConfig POSTs the event payload and automation metadata as JSON.
type WebhookConfig struct {
	URL string `json:"url"`
}

// Action is a tagged variant: Type names the kind and exactly one of the
// config pointers is non-nil.
type Action struct {
	Type       ActionType
	SendEmail  *SendEmailConfig
	UpdateLead *UpdateLeadConfig
	Webhook    *WebhookConfig
}

// wireAction is the flat {type, ...type-specific} shape used on the wire by
// the management contract and in storage.
type wireAction struct {
	Type       ActionType        `json:"type" yaml:"type"`
	TemplateID int64             `json:"template_id,omitempty" yaml:"template_id"`
	To         string            `json:"to,omitempty" yaml:"to"`
	Updates    map[string]string `json:"updates,omitempty" yaml:"updates"`
	URL        string            `json:"url,omitempty" yaml:"url"`
}

func (a *Action) fromWire(w wireAction) error {
	switch w.Type {
	case ActionSendEmail:
		*a = Action{Type: w.Type, SendEmail: &SendEmailConfig{TemplateID: w.TemplateID, To: w.To}}
	case ActionUpdateLead:
		*a = Action{Type: w.Type, UpdateLead: &UpdateLeadConfig{Updates: w.Updates}}
	case ActionWebhook:
		*a = Action{Type: w.Type, Webhook: &WebhookConfig{URL: w.URL}}
	default:
		return fmt.Errorf("unknown action type %q", w.Type)
	}
	return nil
}

func (a Action) toWire() wireAction {
	w := wireAction{Type: a.Type}
	switch a.Type {
	case ActionSendEmail:
		if a.SendEmail != nil {
			w.TemplateID = a.SendEmail.TemplateID
			w.To = a.SendEmail.To
		}
	case ActionUpdateLead:
		if a.UpdateLead != nil {
			w.Updates = a.UpdateLead.Updates
		}
	case ActionWebhook:
		if a.Webhook != nil {
			w.URL = a.Webhook.URL
		}
	}
	return w
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.toWire())
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return a.fromWire(w)
}

func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var w wireAction
	if err := value.Decode(&w); err != nil {
		return err
	}
	return a.fromWire(w)
}

func (a Action) MarshalYAML() (any, error) {
	return a.toWire(), nil
}

// TriggerConfig wraps the condition set, matching the management contract's
// trigger_config: {conditions: [...]} shape.
type TriggerConfig struct {
	Conditions []condition.Condition `json:"conditions" yaml:"conditions"`
}

// Automation is the durable entity the registry stores. A nil CampaignID
// means the automation applies to every campaign. The engine reads
// automations at dispatch time and never mutates them; the action list is
// treated as immutable once execution for an event has begun.
type Automation struct {
	ID            int64             `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	CampaignID    *int64            `json:"campaign_id,omitempty" yaml:"campaign_id"`
	TriggerType   event.TriggerType `json:"trigger_type" yaml:"trigger_type"`
	TriggerConfig TriggerConfig     `json:"trigger_config" yaml:"trigger_config"`
	Actions       []Action          `json:"actions" yaml:"actions"`
	IsActive      bool              `json:"is_active" yaml:"is_active"`
	CreatedAt     time.Time         `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt     time.Time         `json:"updated_at,omitempty" yaml:"-"`
}

// Validate checks an automation definition. Definitions that fail validation
// are rejected at the management boundary and never reach dispatch.
func Validate(a *Automation) error {
	var errs []string
	if a.Name == "" {
		errs = append(errs, "name is required")
	}
	if _, err := event.ParseTriggerType(string(a.TriggerType)); err != nil {
		errs = append(errs, err.Error())
	}
	for i, c := range a.TriggerConfig.Conditions {
		if !condition.KnownField(c.Field) {
			errs = append(errs, fmt.Sprintf("conditions[%d]: field %q is not in the whitelist", i, c.Field))
		}
		if !condition.KnownOperator(c.Operator) {
			errs = append(errs, fmt.Sprintf("conditions[%d]: unknown operator %q", i, c.Operator))
		}
	}
	if len(a.Actions) == 0 {
		errs = append(errs, "at least one action is required")
	}
	for i, act := range a.Actions {
		if err := validateAction(act); err != nil {
			errs = append(errs, fmt.Sprintf("actions[%d]: %s", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid automation: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionSendEmail:
		if a.SendEmail == nil {
			return fmt.Errorf("send_email: missing config")
		}
		if a.SendEmail.TemplateID == 0 {
			return fmt.Errorf("send_email: template_id is required")
		}
		if a.SendEmail.To == "" {
			return fmt.Errorf("send_email: to is required")
		}
	case ActionUpdateLead:
		if a.UpdateLead == nil || len(a.UpdateLead.Updates) == 0 {
			return fmt.Errorf("update_lead: updates must not be empty")
		}
		for field := range a.UpdateLead.Updates {
			if !condition.KnownField(field) {
				return fmt.Errorf("update_lead: field %q is not in the whitelist", field)
			}
		}
	case ActionWebhook:
		if a.Webhook == nil || a.Webhook.URL == "" {
			return fmt.Errorf("webhook: url is required")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
