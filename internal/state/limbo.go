package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/dhtstate/internal/dhtop"
)

var (
	// ErrInvalidTransition is returned for status changes the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid validation limbo transition")

	// ErrNotInLimbo is returned when promoting an op that is not in
	// validation limbo.
	ErrNotInLimbo = errors.New("op not in validation limbo")
)

// ValidationLimboStatus is the validation state of a limbo record.
type ValidationLimboStatus string

const (
	// LimboPending is the initial status of every ingested op.
	LimboPending ValidationLimboStatus = "pending"
	// LimboAwaitingDeps means validation is blocked on missing dependencies.
	LimboAwaitingDeps ValidationLimboStatus = "awaiting_deps"
	// LimboValid means the op passed validation.
	LimboValid ValidationLimboStatus = "valid"
	// LimboInvalid means the op failed validation.
	LimboInvalid ValidationLimboStatus = "invalid"
)

var limboTransitions = map[ValidationLimboStatus][]ValidationLimboStatus{
	LimboPending:      {LimboAwaitingDeps, LimboValid, LimboInvalid},
	LimboAwaitingDeps: {LimboPending, LimboValid, LimboInvalid},
}

// CanTransition reports whether a record may move from one status to
// another. Valid and Invalid are terminal.
func CanTransition(from, to ValidationLimboStatus) bool {
	for _, next := range limboTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s ValidationLimboStatus) IsTerminal() bool {
	return s == LimboValid || s == LimboInvalid
}

// ValidationLimboValue tracks an op while it awaits validation. Ingestion
// creates it; only the validation consumer changes its status or retry
// fields, and only that consumer or promotion removes it.
type ValidationLimboValue struct {
	Status    ValidationLimboStatus `json:"status"`
	Op        dhtop.OpLight         `json:"op"`
	Basis     dhtop.Hash            `json:"basis"`
	TimeAdded time.Time             `json:"time_added"`
	LastTry   *time.Time            `json:"last_try,omitempty"`
	NumTries  uint32                `json:"num_tries"`
	FromAgent *dhtop.AgentKey       `json:"from_agent,omitempty"`
}

// NewValidationLimboValue creates a pending record with no tries.
func NewValidationLimboValue(op dhtop.OpLight, now time.Time, from *dhtop.AgentKey) ValidationLimboValue {
	v := ValidationLimboValue{
		Status:    LimboPending,
		Op:        op,
		Basis:     op.Basis,
		TimeAdded: now.UTC(),
	}
	if from != nil {
		agent := *from
		v.FromAgent = &agent
	}
	return v
}

// RecordTry notes a validation attempt at now.
func (v *ValidationLimboValue) RecordTry(now time.Time) {
	t := now.UTC()
	v.LastTry = &t
	v.NumTries++
}

// Transition moves the record to status to.
func (v *ValidationLimboValue) Transition(to ValidationLimboStatus) error {
	if !CanTransition(v.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, v.Status, to)
	}
	v.Status = to
	return nil
}

// IntegrationStatus is the final validation verdict carried downstream.
type IntegrationStatus string

const (
	IntegrationValid    IntegrationStatus = "valid"
	IntegrationRejected IntegrationStatus = "rejected"
)

// IntegrationLimboValue is a validated op awaiting integration.
type IntegrationLimboValue struct {
	ValidationStatus IntegrationStatus `json:"validation_status"`
	Op               dhtop.OpLight     `json:"op"`
}

// IntegratedDhtOpsValue is an integrated op.
type IntegratedDhtOpsValue struct {
	ValidationStatus IntegrationStatus `json:"validation_status"`
	Op               dhtop.OpLight     `json:"op"`
	WhenIntegrated   time.Time         `json:"when_integrated"`
}

// PromoteToIntegrationLimbo moves a terminally validated op from
// validation limbo to integration limbo. Both writes are staged in the
// given stores, which must be committed together.
func PromoteToIntegrationLimbo(ctx context.Context, vl *ValidationLimboStore, il *IntegrationLimboStore, hash dhtop.Hash) error {
	v, ok, err := vl.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("promote %s: %w", hash, err)
	}
	if !ok {
		return fmt.Errorf("promote %s: %w", hash, ErrNotInLimbo)
	}

	var status IntegrationStatus
	switch v.Status {
	case LimboValid:
		status = IntegrationValid
	case LimboInvalid:
		status = IntegrationRejected
	default:
		return fmt.Errorf("promote %s: %w: status %s is not terminal", hash, ErrInvalidTransition, v.Status)
	}

	if err := il.Put(hash, IntegrationLimboValue{ValidationStatus: status, Op: v.Op}); err != nil {
		return fmt.Errorf("promote %s: %w", hash, err)
	}
	vl.Delete(hash)
	return nil
}
