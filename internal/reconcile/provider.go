package reconcile

import "context"

// Payout verification verdicts.
const (
	VerdictConfirmed = "confirmed"
	VerdictFailed    = "failed"
	VerdictUnknown   = "unknown"
)

// PayoutVerification is the provider's view of a previously submitted payout.
type PayoutVerification struct {
	Verdict     string
	ProviderRef string
}

// Provider is a connector to the payment provider's transfer-status API.
type Provider interface {
	VerifyPayout(ctx context.Context, reference, externalRef string) (PayoutVerification, error)
}

// StaticProvider returns a fixed verdict. Useful in tests and as a stand-in
// while a gateway connector is not configured.
type StaticProvider struct {
	Verdict string
}

// VerifyPayout implements Provider.
func (p StaticProvider) VerifyPayout(_ context.Context, reference, _ string) (PayoutVerification, error) {
	verdict := p.Verdict
	if verdict == "" {
		verdict = VerdictUnknown
	}
	return PayoutVerification{Verdict: verdict, ProviderRef: reference}, nil
}
