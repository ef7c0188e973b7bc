// Package email implements the send_email action: render a template for the
// matched lead and hand it to the mail-sending collaborator.
package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadkit/automation/internal/action"
	"github.com/leadkit/automation/internal/automation"
)

// Template is a stored email template. Subject and Body support {{field}}
// interpolation from the event payload.
type Template struct {
	ID      int64  `yaml:"id"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// ErrTemplateNotFound is returned by TemplateStore lookups for unknown ids.
var ErrTemplateNotFound = errors.New("email template not found")

// TemplateStore resolves template ids referenced by send_email actions.
type TemplateStore interface {
	Template(ctx context.Context, id int64) (*Template, error)
}

// Message is one rendered email ready to send.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender is the external mail-sending collaborator. Implementations classify
// their own failures as transient or permanent.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Handler applies send_email actions.
type Handler struct {
	templates TemplateStore
	sender    Sender
	from      string
}

func New(templates TemplateStore, sender Sender, from string) *Handler {
	return &Handler{templates: templates, sender: sender, from: from}
}

func (h *Handler) Type() automation.ActionType { return automation.ActionSendEmail }

func (h *Handler) Apply(ctx context.Context, inv *action.Invocation) error {
	cfg := inv.Action.SendEmail
	if cfg == nil {
		return action.Permanentf("send_email: missing config")
	}

	payload := inv.Event.Payload
	to := automation.Interpolate(cfg.To, payload)
	if to == "" {
		return action.Permanentf("send_email: recipient %q is empty after interpolation", cfg.To)
	}

	tpl, err := h.templates.Template(ctx, cfg.TemplateID)
	if errors.Is(err, ErrTemplateNotFound) {
		return action.Permanentf("send_email: template %d not found", cfg.TemplateID)
	}
	if err != nil {
		return action.Transient(fmt.Errorf("send_email: load template %d: %w", cfg.TemplateID, err))
	}

	msg := &Message{
		From:    h.from,
		To:      to,
		Subject: automation.Interpolate(tpl.Subject, payload),
		Body:    automation.Interpolate(tpl.Body, payload),
	}
	return h.sender.Send(ctx, msg)
}

// StaticTemplates is a TemplateStore over a fixed set loaded from config.
type StaticTemplates map[int64]*Template

// NewStaticTemplates indexes templates by id.
func NewStaticTemplates(templates []Template) StaticTemplates {
	m := make(StaticTemplates, len(templates))
	for i := range templates {
		m[templates[i].ID] = &templates[i]
	}
	return m
}

func (s StaticTemplates) Template(ctx context.Context, id int64) (*Template, error) {
	t, ok := s[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t, nil
}
