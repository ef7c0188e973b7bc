// Package intake consumes lead events from the message bus and feeds them to
// the dispatcher. The HTTP endpoint remains the synchronous path; the bus is
// how the CRM's own services deliver events without coupling to this process.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/leadkit/automation/internal/engine"
	"github.com/leadkit/automation/internal/event"
)

// SubjectPrefix is the subject space lead events arrive on, e.g.
// leads.event.new_lead, leads.event.status_change.
const SubjectPrefix = "leads.event"

// Subscriber bridges NATS subjects to the dispatcher.
type Subscriber struct {
	conn       *nats.Conn
	sub        *nats.Subscription
	dispatcher *engine.Dispatcher
}

// NewSubscriber connects with automatic reconnection and subscribes to the
// lead event subject space.
func NewSubscriber(url string, dispatcher *engine.Dispatcher, opts ...nats.Option) (*Subscriber, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	s := &Subscriber{conn: nc, dispatcher: dispatcher}
	sub, err := nc.Subscribe(SubjectPrefix+".>", s.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to %s.>: %w", SubjectPrefix, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}

	s.sub = sub
	slog.Info("nats intake started", "subject", SubjectPrefix+".>")
	return s, nil
}

// handle decodes one bus message and dispatches it. Malformed or invalid
// messages are logged and dropped; there is no point redelivering them.
// Unavailable dispatches are also dropped here — the bus is fire-and-forget
// and the producer's fingerprint makes an eventual redelivery safe.
func (s *Subscriber) handle(msg *nats.Msg) {
	var ev event.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Warn("dropping malformed bus event", "subject", msg.Subject, "err", err)
		return
	}
	ev.ReceivedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.dispatcher.Dispatch(ctx, &ev)
	if err != nil {
		slog.Warn("bus event dispatch failed", "subject", msg.Subject, "event_id", ev.ID, "err", err)
		return
	}
	slog.Debug("bus event dispatched",
		"subject", msg.Subject, "event_id", res.EventID,
		"matched", len(res.MatchedIDs), "enqueued", res.Enqueued, "deduped", res.Deduped)
}

// Close unsubscribes and closes the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.conn.Close()
}
