package ledger

import "errors"

// Error taxonomy for the request lifecycle. The HTTP layer maps these to
// status codes; the broker-driven channel logs and drops them.
var (
	// ErrNotFound covers an unknown or owner-mismatched request, and a
	// decision from someone who is not one of the request's approvers.
	ErrNotFound = errors.New("request not found")

	// ErrExpired means the request's TTL has passed. The request and its
	// approvals are purged before this is returned.
	ErrExpired = errors.New("request expired")

	// ErrAlreadyResolved means the request has settled; a request settles
	// exactly once.
	ErrAlreadyResolved = errors.New("request already resolved")

	// ErrAlreadyApproved means another approver's APPROVED landed first.
	ErrAlreadyApproved = errors.New("request already approved by another member")

	// ErrInvalidDecision means the submitted decision was neither APPROVED
	// nor REJECTED.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrNoApprovers means the owner has no ACTIVE FAMILY members, so a
	// request cannot be created.
	ErrNoApprovers = errors.New("no family members available")
)
