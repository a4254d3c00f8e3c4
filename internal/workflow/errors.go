package workflow

import (
	"errors"
	"fmt"

	"github.com/roach88/dhtstate/internal/dhtop"
)

// ErrGenesisIncomplete is returned when a zome is invoked on a chain that
// has not finished genesis.
var ErrGenesisIncomplete = errors.New("source chain genesis incomplete")

// ErrChainExists is returned by Genesis on a chain that already has records.
var ErrChainExists = errors.New("source chain already initialized")

// RejectReason categorizes why the counterfeit gate dropped an op.
type RejectReason string

const (
	// RejectMalformed means the op failed structural validation.
	RejectMalformed RejectReason = "MALFORMED"

	// RejectHashMismatch means the claimed op hash is not the op's content
	// address.
	RejectHashMismatch RejectReason = "HASH_MISMATCH"

	// RejectBadSignature means the signature does not verify against the
	// header's author.
	RejectBadSignature RejectReason = "BAD_SIGNATURE"

	// RejectVerifierFailed means the verifier could not reach a verdict.
	RejectVerifierFailed RejectReason = "VERIFIER_FAILED"
)

// RejectError describes an op dropped by the counterfeit gate. It never
// leaves IncomingDhtOps; callers of ShouldKeep use it to log the reason.
type RejectError struct {
	Reason RejectReason
	Hash   dhtop.Hash
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: op %s: %v", e.Reason, e.Hash, e.Err)
	}
	return fmt.Sprintf("%s: op %s", e.Reason, e.Hash)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

// IsCounterfeit reports whether err is a rejection whose signature or
// content address did not match. Uses errors.As to handle wrapped errors.
func IsCounterfeit(err error) bool {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason == RejectBadSignature || re.Reason == RejectHashMismatch
	}
	return false
}

// RejectReasonOf returns the reason of a rejection, or "" if err is not one.
func RejectReasonOf(err error) RejectReason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
