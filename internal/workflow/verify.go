package workflow

import (
	"context"
	"crypto/ed25519"

	"github.com/roach88/dhtstate/internal/dhtop"
)

// Verifier checks a signature made by author over data.
type Verifier interface {
	Verify(ctx context.Context, author dhtop.AgentKey, data []byte, sig dhtop.Signature) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, author dhtop.AgentKey, data []byte, sig dhtop.Signature) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, author dhtop.AgentKey, data []byte, sig dhtop.Signature) (bool, error) {
	return f(ctx, author, data, sig)
}

// Ed25519Verifier verifies signatures against the author's ed25519 key.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(_ context.Context, author dhtop.AgentKey, data []byte, sig dhtop.Signature) (bool, error) {
	return ed25519.Verify(author.PublicKey(), data, sig[:]), nil
}

// ShouldKeep is the counterfeit gate. It returns nil if in may be staged,
// and a *RejectError otherwise:
//   - the op must be structurally valid
//   - in.Hash must be the op's content address
//   - the signature must verify over the header against its author
//
// A verifier error is a rejection too; the gate fails closed.
func ShouldKeep(ctx context.Context, v Verifier, in IncomingOp) error {
	if err := in.Op.Validate(); err != nil {
		return &RejectError{Reason: RejectMalformed, Hash: in.Hash, Err: err}
	}
	hash, err := in.Op.Hash()
	if err != nil {
		return &RejectError{Reason: RejectMalformed, Hash: in.Hash, Err: err}
	}
	if hash != in.Hash {
		return &RejectError{Reason: RejectHashMismatch, Hash: in.Hash}
	}

	data, err := in.Op.Header.SigningBytes()
	if err != nil {
		return &RejectError{Reason: RejectMalformed, Hash: in.Hash, Err: err}
	}
	ok, err := v.Verify(ctx, in.Op.Header.Author, data, in.Op.Signature)
	if err != nil {
		return &RejectError{Reason: RejectVerifierFailed, Hash: in.Hash, Err: err}
	}
	if !ok {
		return &RejectError{Reason: RejectBadSignature, Hash: in.Hash}
	}
	return nil
}
