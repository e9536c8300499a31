package enrollment

import (
	"context"

	"emailissuer/internal/issuance"
)

// Verifier is the verification backend as the machine sees it.
type Verifier interface {
	RequestCode(ctx context.Context, address, locale string) error
	VerifyToken(ctx context.Context, address, code string) (issuance.Descriptor, error)
}

// Issuer runs the issuance session for a verified address.
type Issuer interface {
	Run(ctx context.Context, address string, d issuance.Descriptor) issuance.Outcome
}
