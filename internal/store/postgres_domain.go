package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertLead creates a lead row. Returns ErrDuplicateKey when the phone
// number already exists; the handler resolves the race by re-reading.
func (s *PostgresStore) InsertLead(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return fmt.Errorf("lead is required")
	}
	now := time.Now()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = "new"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, name, phone, suburb, source, email, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		lead.ID,
		lead.Name,
		lead.Phone,
		lead.Suburb,
		lead.Source,
		nullableString(lead.Email),
		nullableString(lead.Notes),
		lead.Status,
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// GetLead fetches a lead by id. (nil, nil) when absent.
func (s *PostgresStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	return s.getLead(ctx, `WHERE id = $1`, id)
}

// GetLeadByPhone fetches a lead by its natural key.
func (s *PostgresStore) GetLeadByPhone(ctx context.Context, phone string) (*Lead, error) {
	return s.getLead(ctx, `WHERE phone = $1`, phone)
}

func (s *PostgresStore) getLead(ctx context.Context, where string, arg any) (*Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, suburb, source, email, notes, status, created_at, updated_at
		FROM leads `+where, arg)

	var lead Lead
	var email, notes sql.NullString
	err := row.Scan(
		&lead.ID, &lead.Name, &lead.Phone, &lead.Suburb, &lead.Source,
		&email, &notes, &lead.Status, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	if email.Valid {
		lead.Email = email.String
	}
	if notes.Valid {
		lead.Notes = notes.String
	}
	return &lead, nil
}

// UpdateLeadStatus moves a lead to a new pipeline status. Returns false when
// the lead does not exist.
func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return false, fmt.Errorf("update lead status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update lead status rows: %w", err)
	}
	return affected > 0, nil
}

// InsertInspection creates an inspection. Returns ErrDuplicateKey on a
// repeated booking_ref.
func (s *PostgresStore) InsertInspection(ctx context.Context, insp *Inspection) error {
	if insp == nil {
		return fmt.Errorf("inspection is required")
	}
	if insp.CreatedAt.IsZero() {
		insp.CreatedAt = time.Now()
	}
	if insp.Status == "" {
		insp.Status = "scheduled"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inspections (id, lead_id, booking_ref, scheduled_at, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, insp.ID, insp.LeadID, insp.BookingRef, insp.ScheduledAt, nullableString(insp.Notes), insp.Status, insp.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert inspection: %w", err)
	}
	return nil
}

// GetInspectionByRef fetches an inspection by booking reference.
func (s *PostgresStore) GetInspectionByRef(ctx context.Context, bookingRef string) (*Inspection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, booking_ref, scheduled_at, notes, status, created_at
		FROM inspections WHERE booking_ref = $1
	`, bookingRef)

	var insp Inspection
	var notes sql.NullString
	err := row.Scan(&insp.ID, &insp.LeadID, &insp.BookingRef, &insp.ScheduledAt, &notes, &insp.Status, &insp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get inspection: %w", err)
	}
	if notes.Valid {
		insp.Notes = notes.String
	}
	return &insp, nil
}

// InsertQuote creates a quote. Returns ErrDuplicateKey on a repeated
// quote_ref.
func (s *PostgresStore) InsertQuote(ctx context.Context, quote *Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is required")
	}
	now := time.Now()
	if quote.CreatedAt.IsZero() {
		quote.CreatedAt = now
	}
	quote.UpdatedAt = now
	if quote.Status == "" {
		quote.Status = "draft"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (id, lead_id, quote_ref, amount, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, quote.ID, quote.LeadID, quote.QuoteRef, quote.Amount, nullableString(quote.Description), quote.Status, quote.CreatedAt, quote.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

// GetQuote fetches a quote by id.
func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*Quote, error) {
	return s.getQuote(ctx, `WHERE id = $1`, id)
}

// GetQuoteByRef fetches a quote by its natural key.
func (s *PostgresStore) GetQuoteByRef(ctx context.Context, quoteRef string) (*Quote, error) {
	return s.getQuote(ctx, `WHERE quote_ref = $1`, quoteRef)
}

func (s *PostgresStore) getQuote(ctx context.Context, where string, arg any) (*Quote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, quote_ref, amount, description, status, created_at, updated_at
		FROM quotes `+where, arg)

	var quote Quote
	var description sql.NullString
	err := row.Scan(&quote.ID, &quote.LeadID, &quote.QuoteRef, &quote.Amount, &description, &quote.Status, &quote.CreatedAt, &quote.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if description.Valid {
		quote.Description = description.String
	}
	return &quote, nil
}

// UpdateQuoteStatus moves a quote to a new status.
func (s *PostgresStore) UpdateQuoteStatus(ctx context.Context, id, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quotes SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return false, fmt.Errorf("update quote status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update quote status rows: %w", err)
	}
	return affected > 0, nil
}

// InsertJob creates a job. Returns ErrDuplicateKey on a repeated job_ref.
func (s *PostgresStore) InsertJob(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = "scheduled"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, quote_id, job_ref, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.QuoteID, job.JobRef, job.ScheduledAt, job.Status, job.CreatedAt, job.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.getJob(ctx, `WHERE id = $1`, id)
}

// GetJobByRef fetches a job by its natural key.
func (s *PostgresStore) GetJobByRef(ctx context.Context, jobRef string) (*Job, error) {
	return s.getJob(ctx, `WHERE job_ref = $1`, jobRef)
}

func (s *PostgresStore) getJob(ctx context.Context, where string, arg any) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, quote_id, job_ref, scheduled_at, status, created_at, updated_at
		FROM jobs `+where, arg)

	var job Job
	err := row.Scan(&job.ID, &job.QuoteID, &job.JobRef, &job.ScheduledAt, &job.Status, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// UpdateJobStatus moves a job to a new status.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update job status rows: %w", err)
	}
	return affected > 0, nil
}

// InsertInvoice creates an invoice. Returns ErrDuplicateKey on a repeated
// invoice_ref.
func (s *PostgresStore) InsertInvoice(ctx context.Context, invoice *Invoice) error {
	if invoice == nil {
		return fmt.Errorf("invoice is required")
	}
	now := time.Now()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now
	if invoice.Status == "" {
		invoice.Status = "issued"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, job_id, invoice_ref, amount, due_at, paid_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, invoice.ID, invoice.JobID, invoice.InvoiceRef, invoice.Amount, nullableTime(invoice.DueAt), nullableTime(invoice.PaidAt), invoice.Status, invoice.CreatedAt, invoice.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// GetInvoice fetches an invoice by id.
func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return s.getInvoice(ctx, `WHERE id = $1`, id)
}

// GetInvoiceByRef fetches an invoice by its natural key.
func (s *PostgresStore) GetInvoiceByRef(ctx context.Context, invoiceRef string) (*Invoice, error) {
	return s.getInvoice(ctx, `WHERE invoice_ref = $1`, invoiceRef)
}

func (s *PostgresStore) getInvoice(ctx context.Context, where string, arg any) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, invoice_ref, amount, due_at, paid_at, status, created_at, updated_at
		FROM invoices `+where, arg)

	var invoice Invoice
	var dueAt, paidAt sql.NullTime
	err := row.Scan(&invoice.ID, &invoice.JobID, &invoice.InvoiceRef, &invoice.Amount, &dueAt, &paidAt, &invoice.Status, &invoice.CreatedAt, &invoice.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if dueAt.Valid {
		invoice.DueAt = &dueAt.Time
	}
	if paidAt.Valid {
		invoice.PaidAt = &paidAt.Time
	}
	return &invoice, nil
}

// MarkInvoicePaid records payment. Returns false when the invoice is absent.
func (s *PostgresStore) MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = 'paid', paid_at = $1, updated_at = now() WHERE id = $2
	`, paidAt, id)
	if err != nil {
		return false, fmt.Errorf("mark invoice paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark invoice paid rows: %w", err)
	}
	return affected > 0, nil
}

// InsertMessage records an outbound communication.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = "sent"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel, recipient, body, lead_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.Channel, msg.Recipient, msg.Body, nullableString(msg.LeadID), msg.Status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
