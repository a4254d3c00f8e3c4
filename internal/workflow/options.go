package workflow

import (
	"log/slog"
	"time"

	"github.com/roach88/dhtstate/internal/queue"
)

// settings is shared by every workflow runner.
type settings struct {
	now      func() time.Time
	logger   *slog.Logger
	ids      queue.IDGenerator
	verifier Verifier
}

func newSettings(opts []Option) settings {
	s := settings{
		now:      time.Now,
		logger:   slog.Default(),
		ids:      queue.UUIDv7Generator{},
		verifier: Ed25519Verifier{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a workflow runner.
type Option func(*settings)

// WithClock sets the wall clock used for time_added and header
// timestamps.
//
// Default: time.Now
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithLogger sets the logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithIDGenerator sets the generator for batch and call ids.
//
// Default: queue.UUIDv7Generator
func WithIDGenerator(g queue.IDGenerator) Option {
	return func(s *settings) {
		s.ids = g
	}
}

// WithVerifier sets the signature verifier used by the counterfeit gate.
//
// Default: Ed25519Verifier
func WithVerifier(v Verifier) Option {
	return func(s *settings) {
		s.verifier = v
	}
}
