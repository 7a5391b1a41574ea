/*
Package sqlite provides a SQLite-backed implementation of procurement.Store.

PURPOSE:
  Persists requisitions, quotations, score sets, purchase orders, receipts,
  invoices, users, minutes and the audit log. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  requisitions:    aggregate root, items and award details as JSON
  quotations:      one per (requisition, vendor), items as JSON
  score_sets:      one per (quotation, scorer), item scores as JSON
  purchase_orders: lines as JSON
  goods_receipts, invoices, users, minutes
  audit_log:       append-only

TYPED SUB-DOCUMENTS:
  Items, award details, criteria and RFQ settings are stored as JSON
  columns but always decoded into their Go structs; nothing reads them
  as untyped maps.

CONCURRENCY:
  The pool is limited to one connection, so SQLite sees a single writer
  and ":memory:" databases are shared by every caller. WithTx is further
  serialized by a mutex. Requisition rows carry a version column:
  UPDATE ... WHERE version = ? turns a stale write into
  procurement.ErrConcurrentModification.

  Reads inside WithTx go through the *sql.Tx, never through the Store,
  so a transaction never waits on itself.

USAGE:
  store, err := sqlite.New("./data/procure.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - procurement/store.go: Interface definitions
  - procurement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/procurement"
)

// Store implements procurement.Store using SQLite.
type Store struct {
	*conn
	db *sql.DB
	mu sync.Mutex
}

var _ procurement.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requisitions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		justification TEXT,
		department TEXT,
		requester_id TEXT NOT NULL,
		items_json TEXT NOT NULL,
		criteria_json TEXT,
		rfq_json TEXT NOT NULL,
		financial_committee_json TEXT NOT NULL,
		technical_committee_json TEXT NOT NULL,
		committee_name TEXT,
		committee_purpose TEXT,
		scoring_deadline TEXT,
		award_response_deadline TEXT,
		award_strategy TEXT,
		awarded_quote_item_ids_json TEXT NOT NULL,
		total_price TEXT NOT NULL,
		current_approver_id TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requisitions_status ON requisitions(status);

	CREATE TABLE IF NOT EXISTS quotations (
		id TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL REFERENCES requisitions(id),
		vendor_id TEXT NOT NULL,
		vendor_name TEXT,
		items_json TEXT NOT NULL,
		total_price TEXT NOT NULL,
		status TEXT NOT NULL,
		rank INTEGER,
		final_average_score TEXT NOT NULL,
		notes TEXT,
		submitted_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- A vendor quotes once per requisition
	CREATE UNIQUE INDEX IF NOT EXISTS idx_quotations_vendor
		ON quotations(requisition_id, vendor_id);

	CREATE TABLE IF NOT EXISTS score_sets (
		id TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL,
		quotation_id TEXT NOT NULL REFERENCES quotations(id),
		scorer_id TEXT NOT NULL,
		scorer_name TEXT,
		comment TEXT,
		item_scores_json TEXT NOT NULL,
		final_score TEXT NOT NULL,
		submitted_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_score_sets_scorer
		ON score_sets(quotation_id, scorer_id);
	CREATE INDEX IF NOT EXISTS idx_score_sets_requisition
		ON score_sets(requisition_id);

	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL REFERENCES requisitions(id),
		vendor_id TEXT NOT NULL,
		quotation_id TEXT NOT NULL,
		items_json TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchase_orders_requisition
		ON purchase_orders(requisition_id);

	CREATE TABLE IF NOT EXISTS goods_receipts (
		id TEXT PRIMARY KEY,
		purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
		received_by TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		notes TEXT,
		received_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
		requisition_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		paid_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_requisition ON invoices(requisition_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		roles_json TEXT NOT NULL
	);

	-- Append-only decision records
	CREATE TABLE IF NOT EXISTS minutes (
		id TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		justification TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		requisition_id TEXT,
		details TEXT,
		transaction_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_requisition ON audit_log(requisition_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(procurement.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements every read and write against a queryer. The Store uses
// it over the pool for reads; WithTx hands out one bound to the *sql.Tx.
type conn struct {
	q queryer
}

// =============================================================================
// REQUISITIONS
// =============================================================================

const requisitionColumns = `id, status, title, justification, department, requester_id, items_json,
	criteria_json, rfq_json, financial_committee_json, technical_committee_json, committee_name,
	committee_purpose, scoring_deadline, award_response_deadline, award_strategy,
	awarded_quote_item_ids_json, total_price, current_approver_id, version, created_at, updated_at`

func (c *conn) SaveRequisition(ctx context.Context, r *procurement.Requisition) error {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	var criteria sql.NullString
	if r.Criteria != nil {
		b, err := json.Marshal(r.Criteria)
		if err != nil {
			return fmt.Errorf("failed to encode criteria: %w", err)
		}
		criteria = sql.NullString{String: string(b), Valid: true}
	}
	rfq, _ := json.Marshal(r.RFQ)
	financial, _ := json.Marshal(nonNil(r.FinancialCommittee))
	technical, _ := json.Marshal(nonNil(r.TechnicalCommittee))
	awarded, _ := json.Marshal(nonNil(r.AwardedQuoteItemIDs))
	var approver sql.NullString
	if r.CurrentApproverID != nil {
		approver = nullString(string(*r.CurrentApproverID))
	}

	args := []any{
		r.Status, r.Title, r.Justification, r.Department, r.RequesterID, string(items),
		criteria, string(rfq), string(financial), string(technical), r.CommitteeName,
		r.CommitteePurpose, formatNullTime(r.ScoringDeadline), formatNullTime(r.AwardResponseDeadline),
		r.AwardStrategy, string(awarded), r.TotalPrice.String(), approver,
	}

	if r.Version == 0 {
		query := `INSERT INTO requisitions (` + requisitionColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		insert := append([]any{r.ID}, args...)
		insert = append(insert, 1, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
		if _, err := c.q.ExecContext(ctx, query, insert...); err != nil {
			if isUniqueConstraintError(err) {
				return &procurement.ConflictError{Reason: fmt.Sprintf("requisition %s already exists", r.ID)}
			}
			return fmt.Errorf("failed to insert requisition: %w", err)
		}
		r.Version = 1
		return nil
	}

	query := `
		UPDATE requisitions SET
			status = ?, title = ?, justification = ?, department = ?, requester_id = ?, items_json = ?,
			criteria_json = ?, rfq_json = ?, financial_committee_json = ?, technical_committee_json = ?,
			committee_name = ?, committee_purpose = ?, scoring_deadline = ?, award_response_deadline = ?,
			award_strategy = ?, awarded_quote_item_ids_json = ?, total_price = ?, current_approver_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	update := append(args, formatTime(r.UpdatedAt), r.ID, r.Version)
	res, err := c.q.ExecContext(ctx, query, update...)
	if err != nil {
		return fmt.Errorf("failed to update requisition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := c.GetRequisition(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("requisition %s at version %d: %w", r.ID, r.Version, procurement.ErrConcurrentModification)
	}
	r.Version++
	return nil
}

func (c *conn) GetRequisition(ctx context.Context, id procurement.RequisitionID) (*procurement.Requisition, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query requisition: %w", err)
	}
	reqs, err := scanAll(rows, scanRequisition)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, &procurement.NotFoundError{Entity: "requisition", ID: string(id)}
	}
	return reqs[0], nil
}

func (c *conn) ListRequisitions(ctx context.Context, statuses ...procurement.RequisitionStatus) ([]*procurement.Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requisitions: %w", err)
	}
	return scanAll(rows, scanRequisition)
}

func scanRequisition(rows *sql.Rows) (*procurement.Requisition, error) {
	var (
		r                                     procurement.Requisition
		justification, department             sql.NullString
		items, rfq, financial, technical      string
		criteria, committeeName, purpose      sql.NullString
		scoringDeadline, responseDeadline     sql.NullString
		strategy, approver                    sql.NullString
		awarded, totalPrice, created, updated string
	)
	err := rows.Scan(
		&r.ID, &r.Status, &r.Title, &justification, &department, &r.RequesterID, &items,
		&criteria, &rfq, &financial, &technical, &committeeName,
		&purpose, &scoringDeadline, &responseDeadline, &strategy,
		&awarded, &totalPrice, &approver, &r.Version, &created, &updated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan requisition: %w", err)
	}
	r.Justification = justification.String
	r.Department = department.String
	r.CommitteeName = committeeName.String
	r.CommitteePurpose = purpose.String
	r.AwardStrategy = procurement.AwardStrategy(strategy.String)
	r.ScoringDeadline = parseNullTime(scoringDeadline)
	r.AwardResponseDeadline = parseNullTime(responseDeadline)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	if approver.Valid {
		id := procurement.UserID(approver.String)
		r.CurrentApproverID = &id
	}
	if r.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
		return nil, fmt.Errorf("requisition %s total_price: %w", r.ID, err)
	}

	if err := decodeAll(
		jsonField{"items_json", items, &r.Items},
		jsonField{"rfq_json", rfq, &r.RFQ},
		jsonField{"financial_committee_json", financial, &r.FinancialCommittee},
		jsonField{"technical_committee_json", technical, &r.TechnicalCommittee},
		jsonField{"awarded_quote_item_ids_json", awarded, &r.AwardedQuoteItemIDs},
	); err != nil {
		return nil, fmt.Errorf("requisition %s: %w", r.ID, err)
	}
	if criteria.Valid {
		r.Criteria = &procurement.EvaluationCriteria{}
		if err := json.Unmarshal([]byte(criteria.String), r.Criteria); err != nil {
			return nil, fmt.Errorf("requisition %s criteria_json: %w", r.ID, err)
		}
	}
	return &r, nil
}

// =============================================================================
// QUOTATIONS
// =============================================================================

const quotationColumns = `id, requisition_id, vendor_id, vendor_name, items_json, total_price, status,
	rank, final_average_score, notes, submitted_at, updated_at`

func (c *conn) SaveQuotation(ctx context.Context, q *procurement.Quotation) error {
	items, err := json.Marshal(q.Items)
	if err != nil {
		return fmt.Errorf("failed to encode quote items: %w", err)
	}
	var rank sql.NullInt64
	if q.Rank != nil {
		rank = sql.NullInt64{Int64: int64(*q.Rank), Valid: true}
	}
	query := `
		INSERT INTO quotations (` + quotationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			items_json = excluded.items_json,
			total_price = excluded.total_price,
			status = excluded.status,
			rank = excluded.rank,
			final_average_score = excluded.final_average_score,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`
	_, err = c.q.ExecContext(ctx, query,
		q.ID, q.RequisitionID, q.VendorID, q.VendorName, string(items), q.TotalPrice.String(), q.Status,
		rank, q.FinalAverageScore.String(), q.Notes, formatTime(q.SubmittedAt), formatTime(q.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &procurement.ConflictError{Reason: fmt.Sprintf("vendor %s has already submitted a quotation for this requisition", q.VendorID)}
		}
		return fmt.Errorf("failed to save quotation: %w", err)
	}
	return nil
}

func (c *conn) GetQuotation(ctx context.Context, id procurement.QuotationID) (*procurement.Quotation, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotation: %w", err)
	}
	quotes, err := scanAll(rows, scanQuotation)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, &procurement.NotFoundError{Entity: "quotation", ID: string(id)}
	}
	return quotes[0], nil
}

func (c *conn) ListQuotations(ctx context.Context, id procurement.RequisitionID) ([]*procurement.Quotation, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE requisition_id = ? ORDER BY submitted_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotations: %w", err)
	}
	return scanAll(rows, scanQuotation)
}

func scanQuotation(rows *sql.Rows) (*procurement.Quotation, error) {
	var (
		q                   procurement.Quotation
		vendorName, notes   sql.NullString
		items, total, score string
		rank                sql.NullInt64
		submitted, updated  string
	)
	err := rows.Scan(&q.ID, &q.RequisitionID, &q.VendorID, &vendorName, &items, &total, &q.Status,
		&rank, &score, &notes, &submitted, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to scan quotation: %w", err)
	}
	q.VendorName = vendorName.String
	q.Notes = notes.String
	q.SubmittedAt = parseTime(submitted)
	q.UpdatedAt = parseTime(updated)
	if rank.Valid {
		r := int(rank.Int64)
		q.Rank = &r
	}
	if q.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("quotation %s total_price: %w", q.ID, err)
	}
	if q.FinalAverageScore, err = decimal.NewFromString(score); err != nil {
		return nil, fmt.Errorf("quotation %s final_average_score: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(items), &q.Items); err != nil {
		return nil, fmt.Errorf("quotation %s items_json: %w", q.ID, err)
	}
	return &q, nil
}

// =============================================================================
// SCORE SETS
// =============================================================================

func (c *conn) ReplaceScoreSet(ctx context.Context, s procurement.ScoreSet) error {
	if _, err := c.q.ExecContext(ctx,
		`DELETE FROM score_sets WHERE quotation_id = ? AND scorer_id = ?`, s.QuotationID, s.ScorerID); err != nil {
		return fmt.Errorf("failed to delete previous score set: %w", err)
	}
	itemScores, err := json.Marshal(s.ItemScores)
	if err != nil {
		return fmt.Errorf("failed to encode item scores: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO score_sets
		(id, requisition_id, quotation_id, scorer_id, scorer_name, comment, item_scores_json, final_score, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.RequisitionID, s.QuotationID, s.ScorerID, s.ScorerName, s.Comment,
		string(itemScores), s.FinalScore.String(), formatTime(s.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert score set: %w", err)
	}
	return nil
}

func (c *conn) DeleteScoreSets(ctx context.Context, id procurement.RequisitionID) (int, error) {
	res, err := c.q.ExecContext(ctx, `DELETE FROM score_sets WHERE requisition_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete score sets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c *conn) ListScoreSets(ctx context.Context, id procurement.RequisitionID) ([]procurement.ScoreSet, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, requisition_id, quotation_id, scorer_id, scorer_name, comment, item_scores_json, final_score, submitted_at
		FROM score_sets WHERE requisition_id = ? ORDER BY submitted_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list score sets: %w", err)
	}
	return scanAll(rows, func(rows *sql.Rows) (procurement.ScoreSet, error) {
		var (
			s                     procurement.ScoreSet
			name, comment         sql.NullString
			items, final, created string
		)
		if err := rows.Scan(&s.ID, &s.RequisitionID, &s.QuotationID, &s.ScorerID, &name, &comment,
			&items, &final, &created); err != nil {
			return s, fmt.Errorf("failed to scan score set: %w", err)
		}
		s.ScorerName = name.String
		s.Comment = comment.String
		s.SubmittedAt = parseTime(created)
		var err error
		if s.FinalScore, err = decimal.NewFromString(final); err != nil {
			return s, fmt.Errorf("score set %s final_score: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(items), &s.ItemScores); err != nil {
			return s, fmt.Errorf("score set %s item_scores_json: %w", s.ID, err)
		}
		return s, nil
	})
}

// =============================================================================
// PURCHASE ORDERS, RECEIPTS, INVOICES
// =============================================================================

const purchaseOrderColumns = `id, requisition_id, vendor_id, quotation_id, items_json, total_amount, status, created_at, updated_at`

func (c *conn) SavePurchaseOrder(ctx context.Context, po *procurement.PurchaseOrder) error {
	items, err := json.Marshal(po.Items)
	if err != nil {
		return fmt.Errorf("failed to encode purchase order lines: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO purchase_orders (`+purchaseOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			items_json = excluded.items_json,
			total_amount = excluded.total_amount,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		po.ID, po.RequisitionID, po.VendorID, po.QuotationID, string(items), po.TotalAmount.String(),
		po.Status, formatTime(po.CreatedAt), formatTime(po.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save purchase order: %w", err)
	}
	return nil
}

func (c *conn) GetPurchaseOrder(ctx context.Context, id procurement.PurchaseOrderID) (*procurement.PurchaseOrder, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase order: %w", err)
	}
	pos, err := scanAll(rows, scanPurchaseOrder)
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, &procurement.NotFoundError{Entity: "purchase_order", ID: string(id)}
	}
	return pos[0], nil
}

func (c *conn) ListPurchaseOrders(ctx context.Context, id procurement.RequisitionID) ([]*procurement.PurchaseOrder, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE requisition_id = ? ORDER BY created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	return scanAll(rows, scanPurchaseOrder)
}

func scanPurchaseOrder(rows *sql.Rows) (*procurement.PurchaseOrder, error) {
	var (
		po               procurement.PurchaseOrder
		items, total     string
		created, updated string
	)
	if err := rows.Scan(&po.ID, &po.RequisitionID, &po.VendorID, &po.QuotationID, &items, &total,
		&po.Status, &created, &updated); err != nil {
		return nil, fmt.Errorf("failed to scan purchase order: %w", err)
	}
	po.CreatedAt = parseTime(created)
	po.UpdatedAt = parseTime(updated)
	var err error
	if po.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("purchase order %s total_amount: %w", po.ID, err)
	}
	if err := json.Unmarshal([]byte(items), &po.Items); err != nil {
		return nil, fmt.Errorf("purchase order %s items_json: %w", po.ID, err)
	}
	return &po, nil
}

func (c *conn) AddReceipt(ctx context.Context, r procurement.GoodsReceipt) error {
	lines, err := json.Marshal(r.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode receipt lines: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO goods_receipts (id, purchase_order_id, received_by, lines_json, notes, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.PurchaseOrderID, r.ReceivedBy, string(lines), r.Notes, formatTime(r.ReceivedAt))
	if err != nil {
		return fmt.Errorf("failed to insert goods receipt: %w", err)
	}
	return nil
}

func (c *conn) ListReceipts(ctx context.Context, id procurement.PurchaseOrderID) ([]procurement.GoodsReceipt, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, purchase_order_id, received_by, lines_json, notes, received_at
		FROM goods_receipts WHERE purchase_order_id = ? ORDER BY received_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list goods receipts: %w", err)
	}
	return scanAll(rows, func(rows *sql.Rows) (procurement.GoodsReceipt, error) {
		var (
			r               procurement.GoodsReceipt
			lines, received string
			notes           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.PurchaseOrderID, &r.ReceivedBy, &lines, &notes, &received); err != nil {
			return r, fmt.Errorf("failed to scan goods receipt: %w", err)
		}
		r.Notes = notes.String
		r.ReceivedAt = parseTime(received)
		if err := json.Unmarshal([]byte(lines), &r.Lines); err != nil {
			return r, fmt.Errorf("goods receipt %s lines_json: %w", r.ID, err)
		}
		return r, nil
	})
}

const invoiceColumns = `id, purchase_order_id, requisition_id, vendor_id, amount, status, submitted_at, paid_at`

func (c *conn) SaveInvoice(ctx context.Context, inv *procurement.Invoice) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			status = excluded.status,
			paid_at = excluded.paid_at`,
		inv.ID, inv.PurchaseOrderID, inv.RequisitionID, inv.VendorID, inv.Amount.String(), inv.Status,
		formatTime(inv.SubmittedAt), formatNullTime(inv.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

func (c *conn) GetInvoice(ctx context.Context, id procurement.InvoiceID) (*procurement.Invoice, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice: %w", err)
	}
	invs, err := scanAll(rows, scanInvoice)
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, &procurement.NotFoundError{Entity: "invoice", ID: string(id)}
	}
	return invs[0], nil
}

func (c *conn) ListInvoices(ctx context.Context, id procurement.RequisitionID) ([]*procurement.Invoice, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE requisition_id = ? ORDER BY submitted_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return scanAll(rows, scanInvoice)
}

func scanInvoice(rows *sql.Rows) (*procurement.Invoice, error) {
	var (
		inv               procurement.Invoice
		amount, submitted string
		paid              sql.NullString
	)
	if err := rows.Scan(&inv.ID, &inv.PurchaseOrderID, &inv.RequisitionID, &inv.VendorID, &amount,
		&inv.Status, &submitted, &paid); err != nil {
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.SubmittedAt = parseTime(submitted)
	inv.PaidAt = parseNullTime(paid)
	var err error
	if inv.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invoice %s amount: %w", inv.ID, err)
	}
	return &inv, nil
}

// =============================================================================
// USERS
// =============================================================================

// SaveUser adds or replaces a directory entry.
func (s *Store) SaveUser(ctx context.Context, u procurement.User) error {
	roles, err := json.Marshal(nonNil(u.Roles))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, roles_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, roles_json = excluded.roles_json`,
		u.ID, u.Name, u.Email, string(roles))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (c *conn) GetUser(ctx context.Context, id procurement.UserID) (procurement.User, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT id, name, email, roles_json FROM users WHERE id = ?`, id)
	if err != nil {
		return procurement.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	users, err := scanAll(rows, scanUser)
	if err != nil {
		return procurement.User{}, err
	}
	if len(users) == 0 {
		return procurement.User{}, &procurement.NotFoundError{Entity: "user", ID: string(id)}
	}
	return users[0], nil
}

func (c *conn) UsersWithRole(ctx context.Context, role procurement.Role) ([]procurement.User, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, email, roles_json FROM users
		WHERE EXISTS (SELECT 1 FROM json_each(users.roles_json) WHERE json_each.value = ?)
		ORDER BY rowid ASC`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by role: %w", err)
	}
	return scanAll(rows, scanUser)
}

func scanUser(rows *sql.Rows) (procurement.User, error) {
	var (
		u     procurement.User
		email sql.NullString
		roles string
	)
	if err := rows.Scan(&u.ID, &u.Name, &email, &roles); err != nil {
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Email = email.String
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return u, fmt.Errorf("user %s roles_json: %w", u.ID, err)
	}
	return u, nil
}

// =============================================================================
// MINUTES AND AUDIT LOG (append-only)
// =============================================================================

func (c *conn) AddMinute(ctx context.Context, m procurement.Minute) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO minutes (id, requisition_id, author_id, decision, justification, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.RequisitionID, m.AuthorID, m.Decision, m.Justification, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert minute: %w", err)
	}
	return nil
}

func (c *conn) ListMinutes(ctx context.Context, id procurement.RequisitionID) ([]procurement.Minute, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, requisition_id, author_id, decision, justification, created_at
		FROM minutes WHERE requisition_id = ? ORDER BY created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list minutes: %w", err)
	}
	return scanAll(rows, func(rows *sql.Rows) (procurement.Minute, error) {
		var (
			m             procurement.Minute
			justification sql.NullString
			created       string
		)
		if err := rows.Scan(&m.ID, &m.RequisitionID, &m.AuthorID, &m.Decision, &justification, &created); err != nil {
			return m, fmt.Errorf("failed to scan minute: %w", err)
		}
		m.Justification = justification.String
		m.CreatedAt = parseTime(created)
		return m, nil
	})
}

func (c *conn) AppendAudit(ctx context.Context, e procurement.AuditEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, timestamp, actor_id, action, entity_type, entity_id, requisition_id, details, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.ActorID, e.Action, e.EntityType, e.EntityID,
		nullString(string(e.RequisitionID)), e.Details, nullString(e.TransactionID))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (c *conn) QueryAudit(ctx context.Context, f procurement.AuditFilter) ([]procurement.AuditEntry, error) {
	query := `
		SELECT id, timestamp, actor_id, action, entity_type, entity_id, requisition_id, details, transaction_id
		FROM audit_log WHERE 1 = 1`
	var args []any
	if f.RequisitionID != nil {
		query += ` AND requisition_id = ?`
		args = append(args, *f.RequisitionID)
	}
	if f.EntityID != nil {
		query += ` AND entity_id = ?`
		args = append(args, *f.EntityID)
	}
	if f.ActorID != nil {
		query += ` AND actor_id = ?`
		args = append(args, *f.ActorID)
	}
	if len(f.Actions) > 0 {
		query += ` AND action IN (?` + strings.Repeat(", ?", len(f.Actions)-1) + `)`
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}
	query += ` ORDER BY rowid ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return scanAll(rows, func(rows *sql.Rows) (procurement.AuditEntry, error) {
		var (
			e                           procurement.AuditEntry
			ts                          string
			reqID, details, transaction sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&reqID, &details, &transaction); err != nil {
			return e, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.RequisitionID = procurement.RequisitionID(reqID.String)
		e.Details = details.String
		e.TransactionID = transaction.String
		return e, nil
	})
}

// =============================================================================
// UTILITIES
// =============================================================================

// Helper functions

func scanAll[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type jsonField struct {
	column string
	raw    string
	dst    any
}

func decodeAll(fields ...jsonField) error {
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return fmt.Errorf("%s: %w", f.column, err)
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
