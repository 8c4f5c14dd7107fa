package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Update is one flushed snapshot with its run context, as published to
// mirrors.
type Update struct {
	RunID  string     `json:"run_id"`
	Frame  int        `json:"frame"`
	Counts CountState `json:"counts"`
	At     time.Time  `json:"at"`
}

// NATSMirror publishes every update as JSON on a subject.
type NATSMirror struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  logrus.FieldLogger
}

// ConnectNATS dials url and returns a mirror publishing on subject.
func ConnectNATS(url, subject string, logger logrus.FieldLogger) (*NATSMirror, error) {
	nc, err := nats.Connect(url,
		nats.Name("ripeness-detector"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("nats disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s: %w", url, err)
	}
	m := NewNATSMirror(nc, subject, logger)
	m.owned = true
	return m, nil
}

// NewNATSMirror publishes on an existing connection. Close leaves the
// connection open.
func NewNATSMirror(nc *nats.Conn, subject string, logger logrus.FieldLogger) *NATSMirror {
	return &NATSMirror{
		conn:    nc,
		subject: subject,
		logger:  logger.WithField("component", "nats"),
	}
}

// Publish sends u on the mirror subject.
func (m *NATSMirror) Publish(u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	if err := m.conn.Publish(m.subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", m.subject, err)
	}
	return nil
}

// Close drains the connection if the mirror dialed it.
func (m *NATSMirror) Close() error {
	if !m.owned {
		return nil
	}
	return m.conn.Drain()
}
