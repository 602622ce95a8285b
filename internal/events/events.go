// Package events publishes call lifecycle events for other services.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const (
	SubjectParticipantJoined = "calls.participant.joined"
	SubjectParticipantLeft   = "calls.participant.left"
)

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, models.CallEvent) error { return nil }

// NATS publishes events as JSON on core NATS subjects
type NATS struct {
	nc *nats.Conn
}

// ConnectNATS dials url and keeps reconnecting for the life of the process.
func ConnectNATS(url, name string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to nats")
	}
	return &NATS{nc: nc}, nil
}

func (n *NATS) Publish(_ context.Context, subject string, ev models.CallEvent) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return errors.Wrapf(n.nc.Publish(subject, data), "failed to publish %s", subject)
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() {
	if n == nil || n.nc == nil {
		return
	}
	_ = n.nc.Drain()
}

// Encode renders ev as published on the wire.
func Encode(ev models.CallEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	return data, errors.Wrap(err, "failed to encode call event")
}
