package procurement

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type NewRequisition struct {
	Title         string
	Justification string
	Department    string
	Items         []NewItem
}

type NewItem struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (n NewRequisition) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if len(n.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for i, it := range n.Items {
		if strings.TrimSpace(it.Name) == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].name", i), Reason: "is required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if it.UnitPrice.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Reason: "must not be negative"}
		}
	}
	return nil
}

// CreateRequisition stores a Draft requisition owned by the actor.
func (s *Service) CreateRequisition(ctx context.Context, actor Actor, in NewRequisition) (*Requisition, error) {
	if err := requireRole(actor, "creating a requisition", RoleRequester, RoleAdmin); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var req *Requisition
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		req = &Requisition{
			ID:            RequisitionID(newID()),
			Status:        StatusDraft,
			Title:         in.Title,
			Justification: in.Justification,
			Department:    in.Department,
			RequesterID:   actor.ID,
			TotalPrice:    decimal.Zero,
			CreatedAt:     t.now,
			UpdatedAt:     t.now,
		}
		for _, it := range in.Items {
			req.Items = append(req.Items, RequisitionItem{
				ID:        ItemID(newID()),
				Name:      it.Name,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			})
		}
		if err := t.SaveRequisition(ctx, req); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditCreateRequisition, "requisition", string(req.ID),
			fmt.Sprintf("created %q with %d items", req.Title, len(req.Items)))
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// updateRequisition loads, mutates and saves a requisition in one transaction.
func (s *Service) updateRequisition(ctx context.Context, actor Actor, id RequisitionID, fn func(context.Context, *txn, *Requisition) error) (*Requisition, error) {
	var out *Requisition
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		req, err := t.GetRequisition(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, t, req); err != nil {
			return err
		}
		req.UpdatedAt = t.now
		if err := t.SaveRequisition(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

// SubmitRequisition sends a Draft for departmental approval.
func (s *Service) SubmitRequisition(ctx context.Context, actor Actor, id RequisitionID) (*Requisition, error) {
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if actor.ID != req.RequesterID && !actor.HasRole(RoleAdmin) {
			return unauthorized(actor, "only the requester can submit a requisition")
		}
		if err := requireStatus(req, "only draft requisitions can be submitted", StatusDraft); err != nil {
			return err
		}
		if err := req.Transition(StatusPendingApproval); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditSubmitRequisition, "requisition", string(req.ID), "submitted for approval")
	})
}

// ApproveRequisition pre-approves a requisition so an RFQ can be prepared.
func (s *Service) ApproveRequisition(ctx context.Context, actor Actor, id RequisitionID, comment string) (*Requisition, error) {
	if err := requireRole(actor, "approving a requisition", RoleApprover, RoleAdmin); err != nil {
		return nil, err
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := requireStatus(req, "requisition is not pending approval", StatusPendingApproval); err != nil {
			return err
		}
		if err := req.Transition(StatusPreApproved); err != nil {
			return err
		}
		if err := t.minute(ctx, req.ID, "requisition approved", comment); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditApproveRequisition, "requisition", string(req.ID), comment)
	})
}

// RejectRequisition ends a requisition before any RFQ is sent.
func (s *Service) RejectRequisition(ctx context.Context, actor Actor, id RequisitionID, reason string) (*Requisition, error) {
	if err := requireRole(actor, "rejecting a requisition", RoleApprover, RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "a rejection reason is required"}
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := requireStatus(req, "requisition is not pending approval", StatusPendingApproval); err != nil {
			return err
		}
		if err := req.Transition(StatusRejected); err != nil {
			return err
		}
		if err := t.minute(ctx, req.ID, "requisition rejected", reason); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditRejectRequisition, "requisition", string(req.ID), reason)
	})
}

// CancelRequisition withdraws a requisition that has no purchase orders yet.
func (s *Service) CancelRequisition(ctx context.Context, actor Actor, id RequisitionID, reason string) (*Requisition, error) {
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if actor.ID != req.RequesterID && !actor.HasRole(RoleAdmin, RoleProcurementOfficer) {
			return unauthorized(actor, "only the requester or procurement can cancel a requisition")
		}
		if err := req.Transition(StatusCancelled); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditCancelRequisition, "requisition", string(req.ID), reason)
	})
}

// SetEvaluationCriteria replaces the scoring criteria. Criteria are frozen
// once the RFQ has been sent.
func (s *Service) SetEvaluationCriteria(ctx context.Context, actor Actor, id RequisitionID, criteria EvaluationCriteria) (*Requisition, error) {
	if err := requireRole(actor, "setting evaluation criteria", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := requireStatus(req, "Cannot edit criteria after RFQ has been sent",
			StatusDraft, StatusPendingApproval, StatusPreApproved); err != nil {
			return err
		}
		c := criteria.Clone()
		req.Criteria = &c
		return t.audit(ctx, req.ID, AuditSetCriteria, "requisition", string(req.ID),
			fmt.Sprintf("financial %s%% (%d criteria), technical %s%% (%d criteria)",
				c.FinancialWeight, len(c.FinancialCriteria), c.TechnicalWeight, len(c.TechnicalCriteria)))
	})
}

type Committee struct {
	Name            string
	Purpose         string
	Financial       []UserID
	Technical       []UserID
	ScoringDeadline *time.Time
}

// AssignCommittee sets the evaluation committee before scoring starts.
func (s *Service) AssignCommittee(ctx context.Context, actor Actor, id RequisitionID, c Committee) (*Requisition, error) {
	if err := requireRole(actor, "assigning a committee", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	if len(c.Financial)+len(c.Technical) == 0 {
		return nil, &ValidationError{Field: "committee", Reason: "at least one member is required"}
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := requireStatus(req, "committee can only be assigned before scoring starts",
			StatusPreApproved, StatusAcceptingQuotes); err != nil {
			return err
		}
		for _, uid := range append(slices.Clone(c.Financial), c.Technical...) {
			if _, err := t.GetUser(ctx, uid); err != nil {
				return err
			}
		}
		if c.ScoringDeadline != nil && !c.ScoringDeadline.After(t.now) {
			return &ValidationError{Field: "scoring_deadline", Reason: "must be in the future"}
		}
		req.CommitteeName = c.Name
		req.CommitteePurpose = c.Purpose
		req.FinancialCommittee = slices.Clone(c.Financial)
		req.TechnicalCommittee = slices.Clone(c.Technical)
		req.ScoringDeadline = cloneTime(c.ScoringDeadline)

		t.notify(Notification{
			Kind:          NotifyCommitteeAssigned,
			RequisitionID: req.ID,
			UserIDs:       req.CommitteeMembers(),
			Subject:       fmt.Sprintf("You were assigned to evaluate %q", req.Title),
		})
		return t.audit(ctx, req.ID, AuditAssignCommittee, "requisition", string(req.ID),
			fmt.Sprintf("%q: %d financial, %d technical members", c.Name, len(c.Financial), len(c.Technical)))
	})
}

// SendRFQ opens the requisition for vendor quotations.
func (s *Service) SendRFQ(ctx context.Context, actor Actor, id RequisitionID, settings RFQSettings) (*Requisition, error) {
	if err := requireRole(actor, "sending an RFQ", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := requireStatus(req, "RFQ can only be sent for a pre-approved requisition", StatusPreApproved); err != nil {
			return err
		}
		if req.Criteria == nil {
			return &ValidationError{Field: "criteria", Reason: "evaluation criteria must be set before sending the RFQ"}
		}
		if settings.QuoteDeadline != nil && !settings.QuoteDeadline.After(t.now) {
			return &ValidationError{Field: "quote_deadline", Reason: "must be in the future"}
		}
		if err := req.Transition(StatusAcceptingQuotes); err != nil {
			return err
		}
		req.RFQ = RFQSettings{QuoteDeadline: cloneTime(settings.QuoteDeadline), AllowPartial: settings.AllowPartial, Notes: settings.Notes}

		t.notify(Notification{Kind: NotifyRFQSent, RequisitionID: req.ID, Subject: fmt.Sprintf("RFQ open: %s", req.Title)})
		return t.audit(ctx, req.ID, AuditSendRFQ, "requisition", string(req.ID), "RFQ sent")
	})
}
