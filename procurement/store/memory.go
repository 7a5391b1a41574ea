// Package store provides an in-memory procurement.Store.
package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/warp/procurement-engine/procurement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every entity in maps guarded by one mutex. Writes only happen
// through WithTx, which snapshots the state and restores it on error.
type Memory struct {
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	requisitions map[procurement.RequisitionID]*procurement.Requisition
	reqOrder     []procurement.RequisitionID
	quotations   map[procurement.QuotationID]*procurement.Quotation
	quoteOrder   []procurement.QuotationID
	scoreSets    []procurement.ScoreSet
	pos          map[procurement.PurchaseOrderID]*procurement.PurchaseOrder
	poOrder      []procurement.PurchaseOrderID
	receipts     []procurement.GoodsReceipt
	invoices     map[procurement.InvoiceID]*procurement.Invoice
	invOrder     []procurement.InvoiceID
	users        map[procurement.UserID]procurement.User
	userOrder    []procurement.UserID
	minutes      []procurement.Minute
	audit        []procurement.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{data: memoryData{
		requisitions: make(map[procurement.RequisitionID]*procurement.Requisition),
		quotations:   make(map[procurement.QuotationID]*procurement.Quotation),
		pos:          make(map[procurement.PurchaseOrderID]*procurement.PurchaseOrder),
		invoices:     make(map[procurement.InvoiceID]*procurement.Invoice),
		users:        make(map[procurement.UserID]procurement.User),
	}}
}

var _ procurement.Store = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(procurement.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.data.clone()
	if err := fn(&memoryTx{data: &m.data}); err != nil {
		m.data = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *Memory) SaveUser(_ context.Context, u procurement.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.users[u.ID]; !ok {
		m.data.userOrder = append(m.data.userOrder, u.ID)
	}
	u.Roles = slices.Clone(u.Roles)
	m.data.users[u.ID] = u
	return nil
}

// read runs fn against the committed state under the read lock.
func read[T any](m *Memory, fn func(*memoryData) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&m.data)
}

func (m *Memory) GetRequisition(_ context.Context, id procurement.RequisitionID) (*procurement.Requisition, error) {
	return read(m, func(d *memoryData) (*procurement.Requisition, error) { return d.getRequisition(id) })
}

func (m *Memory) ListRequisitions(_ context.Context, statuses ...procurement.RequisitionStatus) ([]*procurement.Requisition, error) {
	return read(m, func(d *memoryData) ([]*procurement.Requisition, error) { return d.listRequisitions(statuses), nil })
}

func (m *Memory) GetQuotation(_ context.Context, id procurement.QuotationID) (*procurement.Quotation, error) {
	return read(m, func(d *memoryData) (*procurement.Quotation, error) { return d.getQuotation(id) })
}

func (m *Memory) ListQuotations(_ context.Context, id procurement.RequisitionID) ([]*procurement.Quotation, error) {
	return read(m, func(d *memoryData) ([]*procurement.Quotation, error) { return d.listQuotations(id), nil })
}

func (m *Memory) ListScoreSets(_ context.Context, id procurement.RequisitionID) ([]procurement.ScoreSet, error) {
	return read(m, func(d *memoryData) ([]procurement.ScoreSet, error) { return d.listScoreSets(id), nil })
}

func (m *Memory) GetPurchaseOrder(_ context.Context, id procurement.PurchaseOrderID) (*procurement.PurchaseOrder, error) {
	return read(m, func(d *memoryData) (*procurement.PurchaseOrder, error) { return d.getPurchaseOrder(id) })
}

func (m *Memory) ListPurchaseOrders(_ context.Context, id procurement.RequisitionID) ([]*procurement.PurchaseOrder, error) {
	return read(m, func(d *memoryData) ([]*procurement.PurchaseOrder, error) { return d.listPurchaseOrders(id), nil })
}

func (m *Memory) ListReceipts(_ context.Context, id procurement.PurchaseOrderID) ([]procurement.GoodsReceipt, error) {
	return read(m, func(d *memoryData) ([]procurement.GoodsReceipt, error) { return d.listReceipts(id), nil })
}

func (m *Memory) GetInvoice(_ context.Context, id procurement.InvoiceID) (*procurement.Invoice, error) {
	return read(m, func(d *memoryData) (*procurement.Invoice, error) { return d.getInvoice(id) })
}

func (m *Memory) ListInvoices(_ context.Context, id procurement.RequisitionID) ([]*procurement.Invoice, error) {
	return read(m, func(d *memoryData) ([]*procurement.Invoice, error) { return d.listInvoices(id), nil })
}

func (m *Memory) GetUser(_ context.Context, id procurement.UserID) (procurement.User, error) {
	return read(m, func(d *memoryData) (procurement.User, error) { return d.getUser(id) })
}

func (m *Memory) UsersWithRole(_ context.Context, role procurement.Role) ([]procurement.User, error) {
	return read(m, func(d *memoryData) ([]procurement.User, error) { return d.usersWithRole(role), nil })
}

func (m *Memory) ListMinutes(_ context.Context, id procurement.RequisitionID) ([]procurement.Minute, error) {
	return read(m, func(d *memoryData) ([]procurement.Minute, error) { return d.listMinutes(id), nil })
}

func (m *Memory) QueryAudit(_ context.Context, f procurement.AuditFilter) ([]procurement.AuditEntry, error) {
	return read(m, func(d *memoryData) ([]procurement.AuditEntry, error) { return d.queryAudit(f), nil })
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// memoryTx works directly on the store's data; the caller already holds the
// write lock and restores the snapshot on error.
type memoryTx struct {
	data *memoryData
}

func (tx *memoryTx) GetRequisition(_ context.Context, id procurement.RequisitionID) (*procurement.Requisition, error) {
	return tx.data.getRequisition(id)
}

func (tx *memoryTx) ListRequisitions(_ context.Context, statuses ...procurement.RequisitionStatus) ([]*procurement.Requisition, error) {
	return tx.data.listRequisitions(statuses), nil
}

func (tx *memoryTx) GetQuotation(_ context.Context, id procurement.QuotationID) (*procurement.Quotation, error) {
	return tx.data.getQuotation(id)
}

func (tx *memoryTx) ListQuotations(_ context.Context, id procurement.RequisitionID) ([]*procurement.Quotation, error) {
	return tx.data.listQuotations(id), nil
}

func (tx *memoryTx) ListScoreSets(_ context.Context, id procurement.RequisitionID) ([]procurement.ScoreSet, error) {
	return tx.data.listScoreSets(id), nil
}

func (tx *memoryTx) GetPurchaseOrder(_ context.Context, id procurement.PurchaseOrderID) (*procurement.PurchaseOrder, error) {
	return tx.data.getPurchaseOrder(id)
}

func (tx *memoryTx) ListPurchaseOrders(_ context.Context, id procurement.RequisitionID) ([]*procurement.PurchaseOrder, error) {
	return tx.data.listPurchaseOrders(id), nil
}

func (tx *memoryTx) ListReceipts(_ context.Context, id procurement.PurchaseOrderID) ([]procurement.GoodsReceipt, error) {
	return tx.data.listReceipts(id), nil
}

func (tx *memoryTx) GetInvoice(_ context.Context, id procurement.InvoiceID) (*procurement.Invoice, error) {
	return tx.data.getInvoice(id)
}

func (tx *memoryTx) ListInvoices(_ context.Context, id procurement.RequisitionID) ([]*procurement.Invoice, error) {
	return tx.data.listInvoices(id), nil
}

func (tx *memoryTx) GetUser(_ context.Context, id procurement.UserID) (procurement.User, error) {
	return tx.data.getUser(id)
}

func (tx *memoryTx) UsersWithRole(_ context.Context, role procurement.Role) ([]procurement.User, error) {
	return tx.data.usersWithRole(role), nil
}

func (tx *memoryTx) ListMinutes(_ context.Context, id procurement.RequisitionID) ([]procurement.Minute, error) {
	return tx.data.listMinutes(id), nil
}

func (tx *memoryTx) QueryAudit(_ context.Context, f procurement.AuditFilter) ([]procurement.AuditEntry, error) {
	return tx.data.queryAudit(f), nil
}

func (tx *memoryTx) SaveRequisition(ctx context.Context, r *procurement.Requisition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := tx.data
	stored, ok := d.requisitions[r.ID]
	switch {
	case r.Version == 0 && ok:
		return &procurement.ConflictError{Reason: fmt.Sprintf("requisition %s already exists", r.ID)}
	case r.Version == 0:
		d.reqOrder = append(d.reqOrder, r.ID)
	case !ok:
		return &procurement.NotFoundError{Entity: "requisition", ID: string(r.ID)}
	case stored.Version != r.Version:
		return fmt.Errorf("requisition %s at version %d, stored %d: %w",
			r.ID, r.Version, stored.Version, procurement.ErrConcurrentModification)
	}
	r.Version++
	d.requisitions[r.ID] = r.Clone()
	return nil
}

func (tx *memoryTx) SaveQuotation(ctx context.Context, q *procurement.Quotation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.data.quotations[q.ID]; !ok {
		tx.data.quoteOrder = append(tx.data.quoteOrder, q.ID)
	}
	tx.data.quotations[q.ID] = q.Clone()
	return nil
}

func (tx *memoryTx) ReplaceScoreSet(ctx context.Context, s procurement.ScoreSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.data.scoreSets = slices.DeleteFunc(tx.data.scoreSets, func(x procurement.ScoreSet) bool {
		return x.QuotationID == s.QuotationID && x.ScorerID == s.ScorerID
	})
	tx.data.scoreSets = append(tx.data.scoreSets, cloneScoreSet(s))
	return nil
}

func (tx *memoryTx) DeleteScoreSets(ctx context.Context, id procurement.RequisitionID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	before := len(tx.data.scoreSets)
	tx.data.scoreSets = slices.DeleteFunc(tx.data.scoreSets, func(x procurement.ScoreSet) bool {
		return x.RequisitionID == id
	})
	return before - len(tx.data.scoreSets), nil
}

func (tx *memoryTx) SavePurchaseOrder(ctx context.Context, po *procurement.PurchaseOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.data.pos[po.ID]; !ok {
		tx.data.poOrder = append(tx.data.poOrder, po.ID)
	}
	tx.data.pos[po.ID] = po.Clone()
	return nil
}

func (tx *memoryTx) AddReceipt(ctx context.Context, r procurement.GoodsReceipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Lines = slices.Clone(r.Lines)
	tx.data.receipts = append(tx.data.receipts, r)
	return nil
}

func (tx *memoryTx) SaveInvoice(ctx context.Context, inv *procurement.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.data.invoices[inv.ID]; !ok {
		tx.data.invOrder = append(tx.data.invOrder, inv.ID)
	}
	c := *inv
	tx.data.invoices[inv.ID] = &c
	return nil
}

func (tx *memoryTx) AddMinute(ctx context.Context, m procurement.Minute) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.data.minutes = append(tx.data.minutes, m)
	return nil
}

func (tx *memoryTx) AppendAudit(ctx context.Context, e procurement.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.data.audit = append(tx.data.audit, e)
	return nil
}

// =============================================================================
// DATA ACCESS - callers hold the lock; results are copies
// =============================================================================

func (d *memoryData) getRequisition(id procurement.RequisitionID) (*procurement.Requisition, error) {
	r, ok := d.requisitions[id]
	if !ok {
		return nil, &procurement.NotFoundError{Entity: "requisition", ID: string(id)}
	}
	return r.Clone(), nil
}

func (d *memoryData) listRequisitions(statuses []procurement.RequisitionStatus) []*procurement.Requisition {
	var out []*procurement.Requisition
	for _, id := range d.reqOrder {
		r := d.requisitions[id]
		if len(statuses) == 0 || slices.Contains(statuses, r.Status) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (d *memoryData) getQuotation(id procurement.QuotationID) (*procurement.Quotation, error) {
	q, ok := d.quotations[id]
	if !ok {
		return nil, &procurement.NotFoundError{Entity: "quotation", ID: string(id)}
	}
	return q.Clone(), nil
}

func (d *memoryData) listQuotations(id procurement.RequisitionID) []*procurement.Quotation {
	var out []*procurement.Quotation
	for _, qid := range d.quoteOrder {
		if q := d.quotations[qid]; q.RequisitionID == id {
			out = append(out, q.Clone())
		}
	}
	return out
}

func (d *memoryData) listScoreSets(id procurement.RequisitionID) []procurement.ScoreSet {
	var out []procurement.ScoreSet
	for _, s := range d.scoreSets {
		if s.RequisitionID == id {
			out = append(out, cloneScoreSet(s))
		}
	}
	return out
}

func (d *memoryData) getPurchaseOrder(id procurement.PurchaseOrderID) (*procurement.PurchaseOrder, error) {
	po, ok := d.pos[id]
	if !ok {
		return nil, &procurement.NotFoundError{Entity: "purchase_order", ID: string(id)}
	}
	return po.Clone(), nil
}

func (d *memoryData) listPurchaseOrders(id procurement.RequisitionID) []*procurement.PurchaseOrder {
	var out []*procurement.PurchaseOrder
	for _, pid := range d.poOrder {
		if po := d.pos[pid]; po.RequisitionID == id {
			out = append(out, po.Clone())
		}
	}
	return out
}

func (d *memoryData) listReceipts(id procurement.PurchaseOrderID) []procurement.GoodsReceipt {
	var out []procurement.GoodsReceipt
	for _, r := range d.receipts {
		if r.PurchaseOrderID == id {
			r.Lines = slices.Clone(r.Lines)
			out = append(out, r)
		}
	}
	return out
}

func (d *memoryData) getInvoice(id procurement.InvoiceID) (*procurement.Invoice, error) {
	inv, ok := d.invoices[id]
	if !ok {
		return nil, &procurement.NotFoundError{Entity: "invoice", ID: string(id)}
	}
	c := *inv
	return &c, nil
}

func (d *memoryData) listInvoices(id procurement.RequisitionID) []*procurement.Invoice {
	var out []*procurement.Invoice
	for _, iid := range d.invOrder {
		if inv := d.invoices[iid]; inv.RequisitionID == id {
			c := *inv
			out = append(out, &c)
		}
	}
	return out
}

func (d *memoryData) getUser(id procurement.UserID) (procurement.User, error) {
	u, ok := d.users[id]
	if !ok {
		return procurement.User{}, &procurement.NotFoundError{Entity: "user", ID: string(id)}
	}
	u.Roles = slices.Clone(u.Roles)
	return u, nil
}

func (d *memoryData) usersWithRole(role procurement.Role) []procurement.User {
	var out []procurement.User
	for _, id := range d.userOrder {
		if u := d.users[id]; u.HasRole(role) {
			u.Roles = slices.Clone(u.Roles)
			out = append(out, u)
		}
	}
	return out
}

func (d *memoryData) listMinutes(id procurement.RequisitionID) []procurement.Minute {
	var out []procurement.Minute
	for _, m := range d.minutes {
		if m.RequisitionID == id {
			out = append(out, m)
		}
	}
	return out
}

func (d *memoryData) queryAudit(f procurement.AuditFilter) []procurement.AuditEntry {
	var out []procurement.AuditEntry
	for _, e := range d.audit {
		if f.RequisitionID != nil && e.RequisitionID != *f.RequisitionID {
			continue
		}
		if f.EntityID != nil && e.EntityID != *f.EntityID {
			continue
		}
		if f.ActorID != nil && e.ActorID != *f.ActorID {
			continue
		}
		if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func (d memoryData) clone() memoryData {
	c := memoryData{
		requisitions: make(map[procurement.RequisitionID]*procurement.Requisition, len(d.requisitions)),
		reqOrder:     slices.Clone(d.reqOrder),
		quotations:   make(map[procurement.QuotationID]*procurement.Quotation, len(d.quotations)),
		quoteOrder:   slices.Clone(d.quoteOrder),
		scoreSets:    make([]procurement.ScoreSet, len(d.scoreSets)),
		pos:          make(map[procurement.PurchaseOrderID]*procurement.PurchaseOrder, len(d.pos)),
		poOrder:      slices.Clone(d.poOrder),
		receipts:     slices.Clone(d.receipts),
		invoices:     make(map[procurement.InvoiceID]*procurement.Invoice, len(d.invoices)),
		invOrder:     slices.Clone(d.invOrder),
		users:        maps.Clone(d.users),
		userOrder:    slices.Clone(d.userOrder),
		minutes:      slices.Clone(d.minutes),
		audit:        slices.Clone(d.audit),
	}
	if c.users == nil {
		c.users = make(map[procurement.UserID]procurement.User)
	}
	for k, v := range d.requisitions {
		c.requisitions[k] = v.Clone()
	}
	for k, v := range d.quotations {
		c.quotations[k] = v.Clone()
	}
	for i, s := range d.scoreSets {
		c.scoreSets[i] = cloneScoreSet(s)
	}
	for k, v := range d.pos {
		c.pos[k] = v.Clone()
	}
	for k, v := range d.invoices {
		inv := *v
		c.invoices[k] = &inv
	}
	return c
}

func cloneScoreSet(s procurement.ScoreSet) procurement.ScoreSet {
	s.ItemScores = slices.Clone(s.ItemScores)
	for i := range s.ItemScores {
		s.ItemScores[i].Scores = slices.Clone(s.ItemScores[i].Scores)
	}
	return s
}
