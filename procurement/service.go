/*
service.go - Transactional workflow service

PURPOSE:
  Orchestrates every state-changing operation. Each operation runs inside
  exactly one Store.WithTx call that reads current state, re-validates
  preconditions, writes every dependent mutation and appends its audit
  records. Nothing is checked outside the transaction and trusted inside it.

REQUEST FLOW:
  1. open a transaction with a timeout (TxTimeout, or FinalizeTimeout for
     the award fan-out)
  2. load the aggregate (requisition + quotations) inside it
  3. mutate through the pure functions in award.go, response.go, ...
  4. save, append audit entries tagged with the transaction id
  5. commit, then hand queued notifications to the Notifier

NOTIFICATIONS:
  Queued during the transaction and sent only after commit. A failing
  Notifier is logged and never turns a committed operation into an error.

SEE ALSO:
  - service_requisition.go, service_quote.go, service_award.go,
    service_fulfillment.go: the operations
  - store.go: Store and Tx
*/
package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Config tunes the workflow. Zero values are replaced by DefaultConfig.
type Config struct {
	TxTimeout           time.Duration
	FinalizeTimeout     time.Duration
	MinQuotes           int // quotations required before scoring starts
	MinScorers          int // score sets required per quotation before scoring completes
	AwardResponseWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		TxTimeout:           10 * time.Second,
		FinalizeTimeout:     30 * time.Second,
		MinQuotes:           1,
		MinScorers:          1,
		AwardResponseWindow: 72 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TxTimeout <= 0 {
		c.TxTimeout = d.TxTimeout
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = d.FinalizeTimeout
	}
	if c.MinQuotes <= 0 {
		c.MinQuotes = d.MinQuotes
	}
	if c.MinScorers <= 0 {
		c.MinScorers = d.MinScorers
	}
	if c.AwardResponseWindow <= 0 {
		c.AwardResponseWindow = d.AwardResponseWindow
	}
	return c
}

// Service runs the procurement workflow against a Store.
type Service struct {
	Store    Store
	Matrix   ApprovalMatrix
	Notifier Notifier
	Logger   *slog.Logger
	Config   Config

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewService wires a service with a no-op notifier and the default logger.
func NewService(store Store, matrix ApprovalMatrix, cfg Config) *Service {
	return &Service{
		Store:    store,
		Matrix:   matrix,
		Notifier: NopNotifier{},
		Logger:   slog.Default(),
		Config:   cfg.withDefaults(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func newID() string { return uuid.Must(uuid.NewV7()).String() }

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

// txn is one open transaction plus what the operation collects on the way.
type txn struct {
	Tx
	id    string
	actor Actor
	now   time.Time
	notes []Notification
}

func (t *txn) audit(ctx context.Context, reqID RequisitionID, action AuditAction, entityType, entityID, details string) error {
	return t.AppendAudit(ctx, AuditEntry{
		ID:            newID(),
		Timestamp:     t.now,
		ActorID:       t.actor.ID,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		RequisitionID: reqID,
		Details:       details,
		TransactionID: t.id,
	})
}

func (t *txn) minute(ctx context.Context, reqID RequisitionID, decision, justification string) error {
	return t.AddMinute(ctx, Minute{
		ID:            newID(),
		RequisitionID: reqID,
		AuthorID:      t.actor.ID,
		Decision:      decision,
		Justification: justification,
		CreatedAt:     t.now,
	})
}

func (t *txn) notify(n Notification) { t.notes = append(t.notes, n) }

// loadAggregate reads the requisition and its quotations inside the transaction.
func (t *txn) loadAggregate(ctx context.Context, id RequisitionID) (*Aggregate, error) {
	req, err := t.GetRequisition(ctx, id)
	if err != nil {
		return nil, err
	}
	quotes, err := t.ListQuotations(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading quotations: %w", err)
	}
	return &Aggregate{Requisition: req, Quotations: quotes}, nil
}

// saveAggregate writes the requisition (version-checked) and every quotation.
func (t *txn) saveAggregate(ctx context.Context, a *Aggregate) error {
	a.Requisition.UpdatedAt = t.now
	if err := t.SaveRequisition(ctx, a.Requisition); err != nil {
		return err
	}
	for _, q := range a.Quotations {
		q.UpdatedAt = t.now
		if err := t.SaveQuotation(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in one store transaction bounded by timeout. An expired
// deadline rolls the transaction back even if fn itself succeeded.
func (s *Service) withTx(ctx context.Context, timeout time.Duration, actor Actor, fn func(context.Context, *txn) error) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := &txn{id: newID(), actor: actor, now: s.Now()}
	err := s.Store.WithTx(tctx, func(tx Tx) error {
		t.Tx = tx
		if err := fn(tctx, t); err != nil {
			return err
		}
		return tctx.Err()
	})
	if err != nil {
		return err
	}

	for _, n := range t.notes {
		if err := s.Notifier.Notify(ctx, n); err != nil {
			s.Logger.Warn("notification failed",
				"kind", n.Kind,
				"requisition_id", n.RequisitionID,
				"tx_id", t.id,
				"error", err)
		}
	}
	return nil
}

func (s *Service) tx(ctx context.Context, actor Actor, fn func(context.Context, *txn) error) error {
	return s.withTx(ctx, s.Config.TxTimeout, actor, fn)
}

func requireRole(a Actor, action string, roles ...Role) error {
	if a.HasRole(roles...) {
		return nil
	}
	return unauthorized(a, fmt.Sprintf("%s requires one of %v", action, roles))
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetRequisition(ctx context.Context, id RequisitionID) (*Requisition, error) {
	return s.Store.GetRequisition(ctx, id)
}

func (s *Service) ListRequisitions(ctx context.Context, statuses ...RequisitionStatus) ([]*Requisition, error) {
	return s.Store.ListRequisitions(ctx, statuses...)
}

func (s *Service) ListQuotations(ctx context.Context, id RequisitionID) ([]*Quotation, error) {
	if _, err := s.Store.GetRequisition(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.ListQuotations(ctx, id)
}

func (s *Service) ListScoreSets(ctx context.Context, id RequisitionID) ([]ScoreSet, error) {
	return s.Store.ListScoreSets(ctx, id)
}

func (s *Service) ListPurchaseOrders(ctx context.Context, id RequisitionID) ([]*PurchaseOrder, error) {
	return s.Store.ListPurchaseOrders(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, id RequisitionID) ([]*Invoice, error) {
	return s.Store.ListInvoices(ctx, id)
}

func (s *Service) ListMinutes(ctx context.Context, id RequisitionID) ([]Minute, error) {
	return s.Store.ListMinutes(ctx, id)
}

func (s *Service) ListAudit(ctx context.Context, id RequisitionID) ([]AuditEntry, error) {
	return s.Store.QueryAudit(ctx, AuditFilter{RequisitionID: &id})
}
