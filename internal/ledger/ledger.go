package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"carguard-backend/internal/model"
)

// DefaultRequestTTL is the fixed lifetime of a start request and its
// approvals. Expiry is enforced lazily on every read; there is no sweeper.
const DefaultRequestTTL = 20 * time.Minute

// activeLookupWindow bounds how many recent requests ActiveFor inspects. Only
// one request should ever be live, but residual stale rows can survive a
// crash between creation and cleanup.
const activeLookupWindow = 5

// Events receives lifecycle fan-out. Implementations must be best-effort:
// a publish failure never reaches the ledger's callers.
type Events interface {
	PublishToOwner(ownerID int64, event string, payload any)
}

// Ledger owns the StartRequest/Approval state machine. The database is the
// single arbiter of truth: every resolver step re-reads persisted state
// instead of trusting previously loaded copies.
type Ledger struct {
	db     *gorm.DB
	events Events
	ttl    time.Duration
	now    func() time.Time
}

// New creates a ledger. events may be nil (fan-out disabled). A zero ttl
// falls back to DefaultRequestTTL.
func New(db *gorm.DB, events Events, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return &Ledger{
		db:     db,
		events: events,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// ApprovalView is one approver's slot in a request snapshot.
type ApprovalView struct {
	MemberID  int64      `json:"memberId"`
	UserID    int64      `json:"userId"`
	Name      string     `json:"name"`
	Relation  string     `json:"relation"`
	Status    string     `json:"status"`
	DecidedAt *time.Time `json:"decidedAt"`
}

// Snapshot is the full state of a request and its per-approver decisions.
type Snapshot struct {
	RequestID    int64          `json:"requestId"`
	Status       string         `json:"status"`
	AlcoholLevel int            `json:"alcoholLevel"`
	RequestedAt  time.Time      `json:"requestedAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	VehicleUUID  string         `json:"vehicleId"`
	Approvals    []ApprovalView `json:"approvals"`
}

// DecisionResult is what a successful decision submission resolved to.
type DecisionResult struct {
	Status    string `json:"status"`
	DecidedBy int64  `json:"decidedBy"`
	Decision  string `json:"decision"`
}

// expired reports whether the request's TTL has passed. Rows migrated without
// an expiry fall back to creation time plus TTL.
func (l *Ledger) expired(request *model.StartRequest, now time.Time) bool {
	if request.ExpiresAt != nil {
		return !now.Before(*request.ExpiresAt)
	}
	if request.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(request.CreatedAt) >= l.ttl
}

func (l *Ledger) expiryOf(request *model.StartRequest) time.Time {
	if request.ExpiresAt != nil {
		return *request.ExpiresAt
	}
	return request.CreatedAt.Add(l.ttl)
}

// CleanupOwner removes every request for the owner, live or expired, together
// with their approvals. Request creation is the sole caller on the happy
// path, which keeps a background sweeper unnecessary.
func (l *Ledger) CleanupOwner(ctx context.Context, ownerID int64) error {
	var requestIDs []int64
	if err := l.db.WithContext(ctx).
		Model(&model.StartRequest{}).
		Where("owner_id = ?", ownerID).
		Pluck("id", &requestIDs).Error; err != nil {
		return fmt.Errorf("failed to list requests for owner %d: %w", ownerID, err)
	}

	if len(requestIDs) == 0 {
		return nil
	}

	if err := l.db.WithContext(ctx).
		Where("request_id IN ?", requestIDs).
		Delete(&model.Approval{}).Error; err != nil {
		return fmt.Errorf("failed to delete approvals for owner %d: %w", ownerID, err)
	}

	return l.db.WithContext(ctx).
		Where("id IN ?", requestIDs).
		Delete(&model.StartRequest{}).Error
}

// Create purges the owner's prior requests, then creates a new PENDING
// request with one PENDING approval per eligible approver.
func (l *Ledger) Create(ctx context.Context, ownerID int64, vehicleUUID string, alcoholLevel int) (*model.StartRequest, error) {
	if ownerID == 0 {
		return nil, fmt.Errorf("ownerID is required")
	}
	if vehicleUUID == "" {
		return nil, fmt.Errorf("vehicleUUID is required")
	}

	if err := l.CleanupOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	var members []model.Member
	if err := l.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND role = ?",
			ownerID, model.MemberActive, model.RoleFamily).
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to load approvers for owner %d: %w", ownerID, err)
	}

	if len(members) == 0 {
		return nil, ErrNoApprovers
	}

	expiresAt := l.now().Add(l.ttl)
	request := model.StartRequest{
		OwnerID:      ownerID,
		VehicleUUID:  vehicleUUID,
		AlcoholLevel: alcoholLevel,
		Status:       model.DecisionPending,
		ExpiresAt:    &expiresAt,
	}
	if err := l.db.WithContext(ctx).Create(&request).Error; err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	approvals := make([]model.Approval, 0, len(members))
	for _, m := range members {
		approvals = append(approvals, model.Approval{
			RequestID: request.ID,
			MemberID:  m.ID,
			Decision:  model.DecisionPending,
			ExpiresAt: &expiresAt,
		})
	}
	if err := l.db.WithContext(ctx).Create(&approvals).Error; err != nil {
		return nil, fmt.Errorf("failed to create approvals: %w", err)
	}

	l.emit(ownerID, "request:new", map[string]any{
		"requestId":   request.ID,
		"requestedAt": request.CreatedAt,
		"expiresAt":   request.ExpiresAt,
		"vehicleId":   vehicleUUID,
	})

	return &request, nil
}

// ActiveFor returns the owner's most recent non-expired request, or nil when
// none exists.
func (l *Ledger) ActiveFor(ctx context.Context, ownerID int64) (*model.StartRequest, error) {
	var requests []model.StartRequest
	if err := l.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(activeLookupWindow).
		Find(&requests).Error; err != nil {
		return nil, err
	}

	now := l.now()
	for i := range requests {
		if !l.expired(&requests[i], now) {
			return &requests[i], nil
		}
	}
	return nil, nil
}

// Snapshot returns the request's status and per-approver decision list. An
// expired request is purged as a side effect before ErrExpired is returned.
func (l *Ledger) Snapshot(ctx context.Context, ownerID, requestID int64) (*Snapshot, error) {
	var request model.StartRequest
	err := l.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", requestID, ownerID).
		First(&request).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if l.expired(&request, l.now()) {
		if err := l.purgeRequest(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	type approvalRow struct {
		MemberID  int64
		UserID    int64
		Name      string
		Relation  string
		Decision  string
		UpdatedAt time.Time
	}
	var rows []approvalRow
	err = l.db.WithContext(ctx).
		Model(&model.Approval{}).
		Select("approvals.member_id AS member_id, members.user_id AS user_id, users.name AS name, members.relation AS relation, approvals.decision AS decision, approvals.updated_at AS updated_at").
		Joins("JOIN members ON members.id = approvals.member_id").
		Joins("JOIN users ON users.id = members.user_id").
		Where("approvals.request_id = ?", requestID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load approvals for request %d: %w", requestID, err)
	}

	views := make([]ApprovalView, 0, len(rows))
	for _, row := range rows {
		view := ApprovalView{
			MemberID: row.MemberID,
			UserID:   row.UserID,
			Name:     row.Name,
			Relation: row.Relation,
			Status:   row.Decision,
		}
		if view.Status == "" {
			view.Status = model.DecisionPending
		}
		if view.Status != model.DecisionPending {
			decidedAt := row.UpdatedAt
			view.DecidedAt = &decidedAt
		}
		views = append(views, view)
	}

	return &Snapshot{
		RequestID:    request.ID,
		Status:       request.Status,
		AlcoholLevel: request.AlcoholLevel,
		RequestedAt:  request.CreatedAt,
		ExpiresAt:    l.expiryOf(&request),
		VehicleUUID:  request.VehicleUUID,
		Approvals:    views,
	}, nil
}

// SubmitDecision applies one approver's decision and resolves the request's
// aggregate status. Approval is OR-aggregated (any one approver authorizes),
// rejection is AND-aggregated (unanimous rejection required).
//
// The check-then-act sequence below races with concurrent submissions. No
// lock is taken; instead the already-approved check is a fresh read
// immediately before the write, and the aggregate status is recomputed from
// the full approval set rather than incremented.
func (l *Ledger) SubmitDecision(ctx context.Context, ownerID, requestID, memberID int64, decision string) (*DecisionResult, error) {
	normalized := strings.ToUpper(strings.TrimSpace(decision))
	if normalized != model.DecisionApproved && normalized != model.DecisionRejected {
		return nil, ErrInvalidDecision
	}

	var request model.StartRequest
	err := l.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", requestID, ownerID).
		First(&request).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if l.expired(&request, l.now()) {
		if err := l.purgeRequest(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if request.Status != model.DecisionPending {
		return nil, ErrAlreadyResolved
	}

	// First APPROVED wins. The status check above may be stale by the time
	// we write, so re-read the approval set for a settled APPROVED.
	if normalized == model.DecisionApproved {
		var approvedCount int64
		err := l.db.WithContext(ctx).
			Model(&model.Approval{}).
			Where("request_id = ? AND decision = ?", requestID, model.DecisionApproved).
			Count(&approvedCount).Error
		if err != nil {
			return nil, err
		}
		if approvedCount > 0 {
			return nil, ErrAlreadyApproved
		}
	}

	update := l.db.WithContext(ctx).
		Model(&model.Approval{}).
		Where("request_id = ? AND member_id = ?", requestID, memberID).
		Update("decision", normalized)
	if update.Error != nil {
		return nil, update.Error
	}
	if update.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var approvals []model.Approval
	if err := l.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Find(&approvals).Error; err != nil {
		return nil, err
	}

	status := aggregateStatus(approvals)
	if err := l.db.WithContext(ctx).
		Model(&model.StartRequest{}).
		Where("id = ?", requestID).
		Update("status", status).Error; err != nil {
		return nil, err
	}

	l.emit(ownerID, "request:update", map[string]any{
		"requestId": requestID,
		"status":    status,
	})
	l.emit(ownerID, "request:approval:update", map[string]any{
		"requestId": requestID,
	})

	return &DecisionResult{
		Status:    status,
		DecidedBy: memberID,
		Decision:  normalized,
	}, nil
}

// aggregateStatus derives the request status from the full approval set.
// Idempotent against re-derivation.
func aggregateStatus(approvals []model.Approval) string {
	allRejected := len(approvals) > 0
	for _, a := range approvals {
		if a.Decision == model.DecisionApproved {
			return model.DecisionApproved
		}
		if a.Decision != model.DecisionRejected {
			allRejected = false
		}
	}
	if allRejected {
		return model.DecisionRejected
	}
	return model.DecisionPending
}

func (l *Ledger) purgeRequest(ctx context.Context, requestID int64) error {
	if err := l.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Delete(&model.Approval{}).Error; err != nil {
		return err
	}
	return l.db.WithContext(ctx).
		Delete(&model.StartRequest{}, requestID).Error
}

func (l *Ledger) emit(ownerID int64, event string, payload any) {
	if l.events == nil {
		return
	}
	l.events.PublishToOwner(ownerID, event, payload)
}
