package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type QuoteInput struct {
	Items []QuoteItemInput
	Notes string
}

type QuoteItemInput struct {
	RequisitionItemID ItemID
	Name              string
	Quantity          int
	UnitPrice         decimal.Decimal
	LeadTimeDays      int
}

// buildItems validates the lines against the requisition and returns them
// with fresh ids and their total.
func (in QuoteInput) buildItems(req *Requisition, qid QuotationID) ([]QuoteItem, decimal.Decimal, error) {
	if len(in.Items) == 0 {
		return nil, decimal.Zero, &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	covered := make(map[ItemID]bool)
	total := decimal.Zero
	var items []QuoteItem
	for i, it := range in.Items {
		ri := req.Item(it.RequisitionItemID)
		if ri == nil {
			return nil, decimal.Zero, &ValidationError{Field: fmt.Sprintf("items[%d]", i),
				Reason: fmt.Sprintf("requisition item %s does not exist", it.RequisitionItemID)}
		}
		if it.Quantity <= 0 {
			return nil, decimal.Zero, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if it.UnitPrice.IsNegative() {
			return nil, decimal.Zero, &ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Reason: "must not be negative"}
		}
		name := it.Name
		if name == "" {
			name = ri.Name
		}
		qi := QuoteItem{
			ID:                QuoteItemID(newID()),
			QuotationID:       qid,
			RequisitionItemID: ri.ID,
			Name:              name,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			LeadTimeDays:      it.LeadTimeDays,
			Status:            AwardSubmitted,
		}
		covered[ri.ID] = true
		total = total.Add(qi.LineTotal())
		items = append(items, qi)
	}
	if !req.RFQ.AllowPartial {
		for _, ri := range req.Items {
			if !covered[ri.ID] {
				return nil, decimal.Zero, &ValidationError{Field: "items",
					Reason: fmt.Sprintf("item %q must be quoted; partial quotations are not allowed", ri.Name)}
			}
		}
	}
	return items, total, nil
}

func deadlinePassed(deadline *time.Time, now time.Time) bool {
	return deadline != nil && now.After(*deadline)
}

// SubmitQuotation records a vendor's bid. A vendor quotes once per requisition.
func (s *Service) SubmitQuotation(ctx context.Context, actor Actor, id RequisitionID, in QuoteInput) (*Quotation, error) {
	if !actor.HasRole(RoleVendor) || actor.VendorID == "" {
		return nil, unauthorized(actor, "only vendors can submit quotations")
	}

	var out *Quotation
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		a, err := t.loadAggregate(ctx, id)
		if err != nil {
			return err
		}
		req := a.Requisition
		if err := requireStatus(req, "requisition is not accepting quotations", StatusAcceptingQuotes); err != nil {
			return err
		}
		if deadlinePassed(req.RFQ.QuoteDeadline, t.now) {
			return invalidRequisitionState(req, "quotation deadline has passed")
		}
		for _, q := range a.Quotations {
			if q.VendorID == actor.VendorID {
				return &ConflictError{Reason: fmt.Sprintf("vendor %s has already submitted a quotation for this requisition", actor.VendorID)}
			}
		}

		q := &Quotation{
			ID:                QuotationID(newID()),
			RequisitionID:     req.ID,
			VendorID:          actor.VendorID,
			VendorName:        actor.Name,
			Status:            AwardSubmitted,
			FinalAverageScore: decimal.Zero,
			Notes:             in.Notes,
			SubmittedAt:       t.now,
			UpdatedAt:         t.now,
		}
		q.Items, q.TotalPrice, err = in.buildItems(req, q.ID)
		if err != nil {
			return err
		}
		if err := t.SaveQuotation(ctx, q); err != nil {
			return err
		}
		out = q
		return t.audit(ctx, req.ID, AuditSubmitQuote, "quotation", string(q.ID),
			fmt.Sprintf("vendor %s quoted %s over %d lines", q.VendorID, q.TotalPrice.StringFixed(2), len(q.Items)))
	})
	return out, err
}

// UpdateQuotation replaces a vendor's lines while the RFQ is still open.
func (s *Service) UpdateQuotation(ctx context.Context, actor Actor, qid QuotationID, in QuoteInput) (*Quotation, error) {
	var out *Quotation
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		q, err := t.GetQuotation(ctx, qid)
		if err != nil {
			return err
		}
		if q.VendorID != actor.VendorID {
			return unauthorized(actor, fmt.Sprintf("quotation %s belongs to another vendor", q.ID))
		}
		req, err := t.GetRequisition(ctx, q.RequisitionID)
		if err != nil {
			return err
		}
		if req.Status != StatusAcceptingQuotes {
			return invalidRequisitionState(req, "Cannot edit quote after award process has started")
		}
		if deadlinePassed(req.RFQ.QuoteDeadline, t.now) {
			return invalidRequisitionState(req, "quotation deadline has passed")
		}
		q.Items, q.TotalPrice, err = in.buildItems(req, q.ID)
		if err != nil {
			return err
		}
		q.Notes = in.Notes
		q.UpdatedAt = t.now
		if err := t.SaveQuotation(ctx, q); err != nil {
			return err
		}
		out = q
		return t.audit(ctx, req.ID, AuditUpdateQuote, "quotation", string(q.ID),
			fmt.Sprintf("total now %s", q.TotalPrice.StringFixed(2)))
	})
	return out, err
}

// =============================================================================
// SCORING
// =============================================================================

// StartScoring closes the RFQ and opens committee scoring.
func (s *Service) StartScoring(ctx context.Context, actor Actor, id RequisitionID) (*Requisition, error) {
	if err := requireRole(actor, "starting scoring", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := requireStatus(req, "scoring can only start while quotations are open", StatusAcceptingQuotes); err != nil {
			return err
		}
		if len(req.CommitteeMembers()) == 0 {
			return invalidRequisitionState(req, "a committee must be assigned before scoring starts")
		}
		quotes, err := t.ListQuotations(ctx, req.ID)
		if err != nil {
			return err
		}
		if len(quotes) < s.Config.MinQuotes {
			return invalidRequisitionState(req,
				fmt.Sprintf("%d quotations received, %d required before scoring", len(quotes), s.Config.MinQuotes))
		}
		if err := req.Transition(StatusScoringInProgress); err != nil {
			return err
		}
		t.notify(Notification{
			Kind:          NotifyCommitteeAssigned,
			RequisitionID: req.ID,
			UserIDs:       req.CommitteeMembers(),
			Subject:       fmt.Sprintf("Scoring is open for %q", req.Title),
		})
		return t.audit(ctx, req.ID, AuditStartScoring, "requisition", string(req.ID),
			fmt.Sprintf("%d quotations to score", len(quotes)))
	})
}

type ScoreSubmission struct {
	QuotationID QuotationID
	Comment     string
	Items       []ItemScoreInput
}

// SubmitScores stores a committee member's scores for one quotation,
// replacing any earlier set of theirs, and recomputes the quotation's
// final average score.
func (s *Service) SubmitScores(ctx context.Context, actor Actor, id RequisitionID, in ScoreSubmission) (ScoreSet, error) {
	var out ScoreSet
	err := s.tx(ctx, actor, func(ctx context.Context, t *txn) error {
		req, err := t.GetRequisition(ctx, id)
		if err != nil {
			return err
		}
		if !req.IsCommitteeMember(actor.ID) {
			return unauthorized(actor, "only assigned committee members can score")
		}
		if err := requireStatus(req, "scores can only be submitted while scoring is in progress", StatusScoringInProgress); err != nil {
			return err
		}
		if req.Criteria == nil {
			return invalidRequisitionState(req, "requisition has no evaluation criteria")
		}
		if deadlinePassed(req.ScoringDeadline, t.now) {
			return invalidRequisitionState(req, "scoring deadline has passed")
		}
		q, err := t.GetQuotation(ctx, in.QuotationID)
		if err != nil {
			return err
		}
		if q.RequisitionID != req.ID {
			return &ValidationError{Field: "quotation_id", Reason: fmt.Sprintf("quotation %s belongs to another requisition", q.ID)}
		}

		set, err := BuildScoreSet(*req.Criteria, q, actor, in.Comment, in.Items)
		if err != nil {
			return err
		}
		set.ID = ScoreSetID(newID())
		set.SubmittedAt = t.now
		if err := t.ReplaceScoreSet(ctx, set); err != nil {
			return err
		}

		sets, err := t.ListScoreSets(ctx, req.ID)
		if err != nil {
			return err
		}
		q.FinalAverageScore = AverageScore(setsFor(sets, q.ID))
		q.UpdatedAt = t.now
		if err := t.SaveQuotation(ctx, q); err != nil {
			return err
		}
		out = set
		return t.audit(ctx, req.ID, AuditSubmitScores, "quotation", string(q.ID),
			fmt.Sprintf("score %s, quotation average now %s", set.FinalScore.StringFixed(2), q.FinalAverageScore.StringFixed(2)))
	})
	return out, err
}

func setsFor(sets []ScoreSet, qid QuotationID) []ScoreSet {
	var out []ScoreSet
	for _, s := range sets {
		if s.QuotationID == qid {
			out = append(out, s)
		}
	}
	return out
}

// CompleteScoring closes scoring once every quotation has enough scorers.
func (s *Service) CompleteScoring(ctx context.Context, actor Actor, id RequisitionID) (*Requisition, error) {
	if err := requireRole(actor, "completing scoring", RoleProcurementOfficer, RoleAdmin); err != nil {
		return nil, err
	}
	return s.updateRequisition(ctx, actor, id, func(ctx context.Context, t *txn, req *Requisition) error {
		if err := requireStatus(req, "scoring is not in progress", StatusScoringInProgress); err != nil {
			return err
		}
		quotes, err := t.ListQuotations(ctx, req.ID)
		if err != nil {
			return err
		}
		sets, err := t.ListScoreSets(ctx, req.ID)
		if err != nil {
			return err
		}
		for _, q := range quotes {
			if n := len(setsFor(sets, q.ID)); n < s.Config.MinScorers {
				return invalidRequisitionState(req,
					fmt.Sprintf("quotation %s has %d of %d required score sets", q.ID, n, s.Config.MinScorers))
			}
		}
		if err := req.Transition(StatusScoringComplete); err != nil {
			return err
		}
		return t.audit(ctx, req.ID, AuditCompleteScoring, "requisition", string(req.ID),
			fmt.Sprintf("%d score sets over %d quotations", len(sets), len(quotes)))
	})
}
