package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/theoremus-urban-solutions/transit-departures/entity"
)

// ErrNotConnected is returned when the connection is down.
var ErrNotConnected = errors.New("not connected to NATS")

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
}

// Publisher implements entity.Sink on top of a NATS connection.
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

var _ entity.Sink = (*Publisher)(nil)

// New wraps an existing connection.
func New(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, "."), logger: logger.With("component", "natspub")}
}

// Connect dials url with reconnect handling and returns the publisher and the raw
// connection for draining on shutdown.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, *nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "natspub")
	conn, err := nats.Connect(url,
		nats.Name("transit-departures"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	log.Info("connected to NATS", "url", conn.ConnectedUrl())
	return New(conn, prefix, logger), conn, nil
}

// Event is the payload of registration subjects.
type Event struct {
	Event     string    `json:"event"`
	UniqueID  string    `json:"unique_id"`
	EntityID  string    `json:"entity_id"`
	Name      string    `json:"name"`
	StationID string    `json:"station_id"`
	Kind      string    `json:"kind"`
	Line      string    `json:"line,omitempty"`
	Direction string    `json:"direction,omitempty"`
	At        time.Time `json:"at"`
}

const (
	eventRegistered   = "registered"
	eventUnregistered = "unregistered"
)

// Register publishes a registered event.
func (p *Publisher) Register(_ context.Context, b *entity.Binding) error {
	return p.publishEvent(eventRegistered, b)
}

// Unregister publishes an unregistered event.
func (p *Publisher) Unregister(_ context.Context, b *entity.Binding) error {
	return p.publishEvent(eventUnregistered, b)
}

// Write publishes the state on the entity's state subject.
func (p *Publisher) Write(_ context.Context, st entity.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state of %s: %w", st.EntityID, err)
	}
	return p.publish(p.StateSubject(st.EntityID), data)
}

// StateSubject returns the subject states of entityID are published on.
func (p *Publisher) StateSubject(entityID string) string {
	return p.prefix + ".state." + objectID(entityID)
}

// EventSubject returns the subject of a registration event.
func (p *Publisher) EventSubject(event string) string {
	return p.prefix + ".entity." + event
}

func (p *Publisher) publishEvent(event string, b *entity.Binding) error {
	data, err := json.Marshal(Event{
		Event:     event,
		UniqueID:  b.UniqueID,
		EntityID:  b.EntityID,
		Name:      b.Name,
		StationID: b.View.StationID,
		Kind:      string(b.View.Kind),
		Line:      b.View.Selector.Line,
		Direction: b.View.Selector.Direction,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	return p.publish(p.EventSubject(event), data)
}

func (p *Publisher) publish(subject string, data []byte) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("published", "subject", subject, "bytes", len(data))
	return nil
}

// objectID strips the domain and replaces characters NATS treats as separators or
// wildcards.
func objectID(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		entityID = entityID[i+1:]
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, entityID)
}
