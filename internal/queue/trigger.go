package queue

import "context"

// TriggerSender wakes the consumer on the other end of a trigger.
// The zero value is a no-op sender.
type TriggerSender struct {
	signal chan struct{}
}

// TriggerReceiver is the consumer's end of a trigger.
type TriggerReceiver struct {
	signal chan struct{}
}

// NewTrigger creates a connected sender/receiver pair.
func NewTrigger() (TriggerSender, TriggerReceiver) {
	// Buffer of 1 coalesces multiple signals
	signal := make(chan struct{}, 1)
	return TriggerSender{signal: signal}, TriggerReceiver{signal: signal}
}

// Trigger requests a pass. Non-blocking: if a pass is already pending the
// call is absorbed.
func (s TriggerSender) Trigger() {
	if s.signal == nil {
		return
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that receives when a pass was requested.
// Use with select for context-aware waiting.
func (r TriggerReceiver) Wait() <-chan struct{} {
	return r.signal
}

// Listen blocks until a pass is requested or ctx is done.
func (r TriggerReceiver) Listen(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.signal:
		return nil
	}
}

// Pending reports whether a pass is requested and not yet received.
func (r TriggerReceiver) Pending() bool {
	return len(r.signal) > 0
}
