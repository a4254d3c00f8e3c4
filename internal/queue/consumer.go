package queue

import (
	"context"
	"log/slog"
	"time"
)

// WorkComplete reports whether a pass drained all available work.
type WorkComplete int

const (
	// Complete means nothing is left until the next trigger.
	Complete WorkComplete = iota
	// Incomplete means the pass stopped early; the consumer re-triggers
	// itself.
	Incomplete
)

func (w WorkComplete) String() string {
	if w == Incomplete {
		return "incomplete"
	}
	return "complete"
}

// Work is one pass of a consuming workflow.
type Work func(ctx context.Context) (WorkComplete, error)

// Consumer runs a Work function once per coalesced wake-up.
type Consumer struct {
	name   string
	self   TriggerSender
	rx     TriggerReceiver
	work   Work
	ids    IDGenerator
	logger *slog.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithIDGenerator sets the pass id generator.
//
// Default: UUIDv7Generator
func WithIDGenerator(g IDGenerator) ConsumerOption {
	return func(c *Consumer) {
		c.ids = g
	}
}

// WithLogger sets the logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// NewConsumer creates a consumer for the trigger pair (self, rx). self is
// used to re-trigger after an Incomplete pass.
func NewConsumer(name string, self TriggerSender, rx TriggerReceiver, work Work, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		name:   name,
		self:   self,
		rx:     rx,
		work:   work,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run waits for triggers and runs one pass per wake-up until ctx is done.
// A failed pass is logged and the consumer keeps waiting; the next trigger
// retries. Run returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer starting", "consumer", c.name)
	for {
		if err := c.rx.Listen(ctx); err != nil {
			c.logger.Info("consumer stopping: context cancelled", "consumer", c.name)
			return err
		}
		c.pass(ctx)
	}
}

func (c *Consumer) pass(ctx context.Context) {
	id := c.ids.Generate()
	start := time.Now()

	result, err := c.work(ctx)
	if err != nil {
		c.logger.Error("consumer pass failed",
			"consumer", c.name,
			"pass_id", id,
			"error", err,
		)
		return
	}
	c.logger.Debug("consumer pass done",
		"consumer", c.name,
		"pass_id", id,
		"result", result.String(),
		"duration", time.Since(start),
	)
	if result == Incomplete {
		c.self.Trigger()
	}
}
