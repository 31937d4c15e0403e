package hub

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSubscriber mirrors broadcasts onto NATS subjects named <prefix>.<type>.
type NATSSubscriber struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
	close  func()
}

// ConnectNATS dials url and wraps the connection as a subscriber.
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(url,
		nats.Name("footprint"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	s := NewNATSSubscriber(nc, prefix, logger)
	s.close = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return s, nil
}

func NewNATSSubscriber(pub Publisher, prefix string, logger *zap.Logger) *NATSSubscriber {
	if prefix == "" {
		prefix = "footprint"
	}
	return &NATSSubscriber{pub: pub, prefix: prefix, logger: logger.Named("nats")}
}

func (s *NATSSubscriber) ID() string {
	return "nats:" + s.prefix
}

// Send publishes msg under its type subject. Publish errors are logged but never
// evict the mirror: the connection reconnects on its own.
func (s *NATSSubscriber) Send(msg []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil || head.Type == "" {
		head.Type = "unknown"
	}
	subject := s.prefix + "." + head.Type
	if err := s.pub.Publish(subject, msg); err != nil {
		s.logger.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
	}
	return true
}

func (s *NATSSubscriber) Close() {
	if s.close != nil {
		s.close()
	}
}
