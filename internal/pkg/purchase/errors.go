package purchase

import "errors"

var (
	// ErrNotEligible is returned when the requester does not hold the
	// restricted child role; parents buy directly without a request.
	ErrNotEligible = errors.New("purchase: requester not eligible")

	// ErrUnknownPackage is returned when the requested package is missing or
	// no longer active.
	ErrUnknownPackage = errors.New("purchase: unknown token package")

	// ErrForbidden is returned when the approver is not a guardian of the
	// requester's group.
	ErrForbidden = errors.New("purchase: approver not permitted")

	// ErrAlreadyResolved is returned when approving or rejecting a request
	// that already left the pending state. Callers retrying a resolution
	// should treat it as success-equivalent.
	ErrAlreadyResolved = errors.New("purchase: request already resolved")
)
