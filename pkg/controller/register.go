package controller

import (
	"context"
	"fmt"

	"github.com/nightcloud/nightfleet/pkg/mineapi"
	"github.com/nightcloud/nightfleet/pkg/signer"
)

// RegistrationResult reports one address's registration attempt.
type RegistrationResult struct {
	Address string
	Err     error
}

// RegisterAddresses runs the registration flow for each address: fetch
// the terms once, sign the terms message per address, POST the
// registration. An already-registered address counts as success. One
// failing address does not stop the rest.
func RegisterAddresses(ctx context.Context, api *mineapi.Client, sig signer.Signer, termsVersion string, addresses []string) []RegistrationResult {
	results := make([]RegistrationResult, 0, len(addresses))

	terms, err := api.GetTerms(ctx, termsVersion)
	if err != nil {
		for _, addr := range addresses {
			results = append(results, RegistrationResult{Address: addr, Err: fmt.Errorf("failed to fetch terms: %w", err)})
		}
		return results
	}

	for _, addr := range addresses {
		results = append(results, RegistrationResult{
			Address: addr,
			Err:     registerOne(ctx, api, sig, terms, addr),
		})
	}
	return results
}

func registerOne(ctx context.Context, api *mineapi.Client, sig signer.Signer, terms *mineapi.Terms, address string) error {
	// The message must be signed verbatim; the server verifies the
	// signature against it byte for byte.
	s, err := sig.Sign(ctx, address, terms.Message)
	if err != nil {
		return fmt.Errorf("failed to sign terms: %w", err)
	}
	if _, err := api.Register(ctx, address, s.Signature, s.PublicKey); err != nil {
		return err
	}
	return nil
}

// Donate redirects an address's rewards to the destination. The original
// address signs the destination address as proof of intent.
func Donate(ctx context.Context, api *mineapi.Client, sig signer.Signer, destination, original string) (mineapi.DonateOutcome, error) {
	s, err := sig.Sign(ctx, original, destination)
	if err != nil {
		return mineapi.DonateTransientError, fmt.Errorf("failed to sign donation: %w", err)
	}
	outcome, _, err := api.DonateTo(ctx, destination, original, s.Signature)
	return outcome, err
}
