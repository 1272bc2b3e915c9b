package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore provides invoice persistence against PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new invoice into the database.
func (s *PostgresStore) Create(ctx context.Context, inv *Invoice) error {
	lines, err := json.Marshal(inv.Lines)
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if inv.FiscalStatus == "" {
		inv.FiscalStatus = FiscalPending
	}

	query := `
		INSERT INTO invoices (
			id, series, number, issue_date, type_code,
			issuer_tax_id, issuer_name, buyer_tax_id, buyer_name,
			lines, withholding_rate, reimbursable,
			fingerprint, verification_code, verification_image,
			fiscal_status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16, $17, $18
		)`

	_, err = s.db.Exec(ctx, query,
		inv.ID, inv.Series, inv.Number, inv.IssueDate, inv.TypeCode,
		inv.IssuerTaxID, inv.IssuerName, inv.BuyerTaxID, inv.BuyerName,
		lines, inv.WithholdingRate, inv.Reimbursable,
		inv.Fingerprint, inv.VerificationCode, inv.VerificationImage,
		inv.FiscalStatus, inv.CreatedAt, inv.UpdatedAt,
	)
	return err
}

// GetByID retrieves an invoice by its UUID.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	query := `
		SELECT id, series, number, issue_date, type_code,
		       issuer_tax_id, issuer_name, buyer_tax_id, buyer_name,
		       lines, withholding_rate, reimbursable,
		       fingerprint, verification_code, verification_image,
		       fiscal_status, created_at, updated_at
		  FROM invoices WHERE id = $1`
	return s.scanOne(ctx, query, id)
}

// List returns invoices ordered by creation time, newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Invoice, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, series, number, issue_date, type_code,
		       issuer_tax_id, issuer_name, buyer_tax_id, buyer_name,
		       lines, withholding_rate, reimbursable,
		       fingerprint, verification_code, verification_image,
		       fiscal_status, created_at, updated_at
		  FROM invoices
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// EmbedFingerprintAndCode implements Store. The WHERE clause makes the write
// a no-op when the same values are already present.
func (s *PostgresStore) EmbedFingerprintAndCode(ctx context.Context, id uuid.UUID, fingerprint, code string, image []byte) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE invoices
		   SET fingerprint = $2,
		       verification_code = $3,
		       verification_image = $4,
		       fiscal_status = $5,
		       updated_at = $6
		 WHERE id = $1
		   AND (fingerprint IS DISTINCT FROM $2 OR verification_code IS DISTINCT FROM $3)`,
		id, fingerprint, code, image, FiscalFingerprinted, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either already embedded (idempotent success) or missing.
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// MarkFiscalStatus implements Store.
func (s *PostgresStore) MarkFiscalStatus(ctx context.Context, id uuid.UUID, status FiscalStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE invoices SET fiscal_status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*Invoice, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanInvoice(rows)
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv   Invoice
		lines []byte
	)
	err := row.Scan(
		&inv.ID, &inv.Series, &inv.Number, &inv.IssueDate, &inv.TypeCode,
		&inv.IssuerTaxID, &inv.IssuerName, &inv.BuyerTaxID, &inv.BuyerName,
		&lines, &inv.WithholdingRate, &inv.Reimbursable,
		&inv.Fingerprint, &inv.VerificationCode, &inv.VerificationImage,
		&inv.FiscalStatus, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &inv.Lines); err != nil {
			return nil, fmt.Errorf("unmarshal lines: %w", err)
		}
	}
	return &inv, nil
}
