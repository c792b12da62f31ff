package notify

import (
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/mcoot/sideline/internal/model"
)

// NATSSink publishes each event as JSON on "<prefix>.<event type>"
type NATSSink struct {
	conn    *nats.Conn
	prefix  string
	logger  *slog.Logger
	ownConn bool
}

// NewNATSSink connects to url and publishes under subjectPrefix
func NewNATSSink(url, subjectPrefix string, logger *slog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("sideline-agent"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s := NewNATSSinkWithConn(conn, subjectPrefix, logger)
	s.ownConn = true
	return s, nil
}

// NewNATSSinkWithConn publishes through an existing connection
func NewNATSSinkWithConn(conn *nats.Conn, subjectPrefix string, logger *slog.Logger) *NATSSink {
	return &NATSSink{
		conn:   conn,
		prefix: subjectPrefix,
		logger: logger.With(slog.String("component", "notify.nats")),
	}
}

// Ensure NATSSink implements Sink
var _ Sink = (*NATSSink)(nil)

// Subject returns the subject an event type is published on
func (s *NATSSink) Subject(t model.EventType) string {
	return s.prefix + "." + string(t)
}

// Notify publishes event; failures are logged and dropped
func (s *NATSSink) Notify(event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event", slog.Any("error", err))
		return
	}
	if err := s.conn.Publish(s.Subject(event.Type), data); err != nil {
		s.logger.Warn("failed to publish event",
			slog.String("subject", s.Subject(event.Type)),
			slog.Any("error", err))
	}
}

// Close drains the connection if this sink opened it
func (s *NATSSink) Close() error {
	if !s.ownConn {
		return nil
	}
	return s.conn.Drain()
}
