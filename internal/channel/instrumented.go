package channel

import (
	"context"

	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/logging"
	"github.com/peder1981/p2p-chat/internal/metrics"
)

// Instrumented wraps a Store with metrics and logging.
type Instrumented struct {
	next    Store
	logger  logging.Logger
	metrics *metrics.Metrics
}

var _ Store = (*Instrumented)(nil)

// NewInstrumented wraps next.
func NewInstrumented(next Store, logger logging.Logger, m *metrics.Metrics) *Instrumented {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Instrumented{next: next, logger: logger.With("module", "channels"), metrics: m}
}

func (s *Instrumented) observe(op, name string, err error) {
	result := "ok"
	if err != nil {
		result = errs.Kind(err)
	}
	s.metrics.ChannelOps.With("op", op, "result", result).Add(1)
	switch {
	case err == nil:
	case result == "internal" || result == "unavailable":
		s.logger.Error("channel store failure", "op", op, "channel", name, "err", err)
	default:
		s.logger.Debug("channel request rejected", "op", op, "channel", name, "err", err)
	}
}

// Create implements Store.
func (s *Instrumented) Create(ctx context.Context, name string) (bool, error) {
	created, err := s.next.Create(ctx, name)
	s.observe("create", name, err)
	if created {
		s.logger.Info("channel created", "channel", name)
	}
	return created, err
}

// List implements Store.
func (s *Instrumented) List(ctx context.Context) (map[string]Info, error) {
	out, err := s.next.List(ctx)
	s.observe("list", "", err)
	return out, err
}

// Post implements Store.
func (s *Instrumented) Post(ctx context.Context, name, sender, body string) (Message, error) {
	msg, err := s.next.Post(ctx, name, sender, body)
	s.observe("post", name, err)
	if err == nil {
		s.metrics.ChannelMessages.Add(1)
	}
	return msg, err
}

// History implements Store.
func (s *Instrumented) History(ctx context.Context, name string) ([]Message, error) {
	out, err := s.next.History(ctx, name)
	s.observe("history", name, err)
	return out, err
}
