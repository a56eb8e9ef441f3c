package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
)

// NATSSubscriber receives audit events on a queue-group subscription so
// several instances share the stream.
type NATSSubscriber struct {
	conf   config.NATSConf
	sub    Submitter
	logger *slog.Logger
}

// NewNATSSubscriber creates a subscriber for conf.
func NewNATSSubscriber(conf config.NATSConf, sub Submitter, logger *slog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		conf:   conf,
		sub:    sub,
		logger: logger.With("component", "nats-source", "subject", conf.Subject),
	}
}

// Run connects, subscribes and blocks until ctx is cancelled, then drains the
// connection.
func (s *NATSSubscriber) Run(ctx context.Context) error {
	nc, err := nats.Connect(s.conf.URL,
		nats.Name("hrguard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats %s: %w", s.conf.URL, err)
	}

	if _, err := nc.QueueSubscribe(s.conf.Subject, s.conf.Queue, func(m *nats.Msg) {
		s.handle(ctx, m.Data)
	}); err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", s.conf.Subject, err)
	}
	s.logger.Info("nats source started", "queue", s.conf.Queue)

	<-ctx.Done()
	if err := nc.Drain(); err != nil {
		s.logger.Warn("nats drain failed", "err", err)
		nc.Close()
	}
	return nil
}

// handle decodes and submits one payload. Core NATS has no redelivery, so an
// event the engine cannot take is dropped after back-off gives up.
func (s *NATSSubscriber) handle(ctx context.Context, data []byte) {
	ev, err := Decode(data, time.Now().UTC())
	if err != nil {
		metrics.EventsDropped.Inc()
		s.logger.Warn("dropping malformed message", "err", err)
		return
	}
	if err := submitWithBackoff(ctx, s.sub, ev, s.logger); err != nil {
		s.logger.Warn("event dropped on shutdown", "event_id", ev.ID, "err", err)
	}
}
