package purchase

import "context"

// CheckoutSessionInput describes the hosted checkout to create for an
// approved purchase request.
type CheckoutSessionInput struct {
	PriceRef        string
	Quantity        int64
	ReturnURL       string
	ClientReference string
	Metadata        map[string]string
}

// CheckoutSession is the collaborator's answer: only the session ID is
// persisted locally, the URL is handed to the approving user.
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutClient creates hosted checkout sessions with the payment gateway.
// The Stripe implementation lives in the billing package.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
}
