package purchase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/taskhive/TaskHive/app/models"
	"gorm.io/gorm"
)

// Service runs the guarded purchase-request state machine: a child asks for a
// token package, a parent of the same group approves or rejects. Approval
// creates the hosted checkout; tokens are credited only once the payment
// confirmation arrives through the billing collaborator.
type Service struct {
	repo     Repository
	checkout CheckoutClient
	now      func() time.Time
}

// NewService creates a purchase workflow service.
func NewService(repo Repository, checkout CheckoutClient) *Service {
	return &Service{repo: repo, checkout: checkout, now: time.Now}
}

// NewServiceFromDB creates a purchase workflow service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, checkout CheckoutClient) *Service {
	return NewService(NewRepository(db), checkout)
}

// Create files a pending request. The requester must hold the child role and
// the package must still be purchasable. No ledger effect yet.
func (s *Service) Create(ctx context.Context, requesterID, packageID uint) (*models.TokenPurchaseRequest, error) {
	requester, err := s.repo.GetUser(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	if !requester.IsChild() {
		return nil, ErrNotEligible
	}

	if _, err := s.repo.GetActivePackage(ctx, packageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownPackage
		}
		return nil, fmt.Errorf("load package: %w", err)
	}

	req := &models.TokenPurchaseRequest{
		RequesterID: requesterID,
		PackageID:   packageID,
		Status:      models.PurchaseRequestPending,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create purchase request: %w", err)
	}

	log.Infof("[Purchase] Request %d created (requester %d, package %d)", req.ID, requesterID, packageID)
	return req, nil
}

// Approve transitions a pending request to approved and then creates the
// checkout session. The transition commits first; the external call is never
// part of the transaction, so a gateway failure leaves an approved request
// whose checkout can be retried.
func (s *Service) Approve(ctx context.Context, requestID, approverID uint) (*models.TokenPurchaseRequest, *CheckoutSession, error) {
	req, pkg, err := s.resolve(ctx, requestID, approverID, func(r *models.TokenPurchaseRequest) {
		now := s.now()
		approver := approverID
		r.Status = models.PurchaseRequestApproved
		r.ApprovedByUserID = &approver
		r.ApprovedAt = &now
	})
	if err != nil {
		return nil, nil, err
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, CheckoutSessionInput{
		PriceRef:        pkg.StripePriceID,
		Quantity:        1,
		ClientReference: strconv.FormatUint(uint64(req.ID), 10),
		Metadata: map[string]string{
			"purchase_request_id": strconv.FormatUint(uint64(req.ID), 10),
			"requester_id":        strconv.FormatUint(uint64(req.RequesterID), 10),
			"token_amount":        strconv.FormatInt(pkg.TokenAmount, 10),
		},
	})
	if err != nil {
		log.Errorf("[Purchase] Checkout session for request %d failed: %v", req.ID, err)
		return req, nil, fmt.Errorf("create checkout session: %w", err)
	}

	if err := s.repo.SetCheckoutSession(ctx, req.ID, session.ID); err != nil {
		log.Errorf("[Purchase] Storing checkout session %s for request %d failed: %v", session.ID, req.ID, err)
		return req, session, fmt.Errorf("store checkout session: %w", err)
	}
	req.CheckoutSessionID = session.ID

	log.Infof("[Purchase] Request %d approved by %d, checkout session %s", req.ID, approverID, session.ID)
	return req, session, nil
}

// Reject transitions a pending request to rejected, recording the reason.
func (s *Service) Reject(ctx context.Context, requestID, approverID uint, reason string) (*models.TokenPurchaseRequest, error) {
	req, _, err := s.resolve(ctx, requestID, approverID, func(r *models.TokenPurchaseRequest) {
		approver := approverID
		r.Status = models.PurchaseRequestRejected
		r.ApprovedByUserID = &approver
		r.RejectionReason = strings.TrimSpace(reason)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Purchase] Request %d rejected by %d", req.ID, approverID)
	return req, nil
}

// resolve performs the shared guard checks and applies the transition under
// the repository's request lock.
func (s *Service) resolve(ctx context.Context, requestID, approverID uint, transition func(r *models.TokenPurchaseRequest)) (*models.TokenPurchaseRequest, *models.TokenPackage, error) {
	current, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("load request: %w", err)
	}

	approver, err := s.repo.GetUser(ctx, approverID)
	if err != nil {
		return nil, nil, fmt.Errorf("load approver: %w", err)
	}
	requester, err := s.repo.GetUser(ctx, current.RequesterID)
	if err != nil {
		return nil, nil, fmt.Errorf("load requester: %w", err)
	}
	if !approver.CanApproveFor(requester) {
		return nil, nil, ErrForbidden
	}

	pkg, err := s.repo.GetPackage(ctx, current.PackageID)
	if err != nil {
		return nil, nil, fmt.Errorf("load package: %w", err)
	}

	resolved, err := s.repo.ResolveRequest(ctx, requestID, func(r *models.TokenPurchaseRequest) error {
		if !r.IsPending() {
			return ErrAlreadyResolved
		}
		transition(r)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resolved, pkg, nil
}
