package store

import (
	"context"
	"fmt"
	"time"
)

// InsertLead creates a lead, enforcing the unique phone constraint.
func (s *MemoryStore) InsertLead(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return fmt.Errorf("lead is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.leadPhones[lead.Phone]; exists {
		return ErrDuplicateKey
	}
	now := time.Now()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = "new"
	}
	stored := *lead
	s.leads[lead.ID] = &stored
	s.leadPhones[lead.Phone] = lead.ID
	return nil
}

// GetLead fetches a lead by id.
func (s *MemoryStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, nil
	}
	copied := *lead
	return &copied, nil
}

// GetLeadByPhone fetches a lead by its natural key.
func (s *MemoryStore) GetLeadByPhone(ctx context.Context, phone string) (*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.leadPhones[phone]
	if !ok {
		return nil, nil
	}
	copied := *s.leads[id]
	return &copied, nil
}

// UpdateLeadStatus moves a lead to a new status.
func (s *MemoryStore) UpdateLeadStatus(ctx context.Context, id, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok {
		return false, nil
	}
	lead.Status = status
	lead.UpdatedAt = time.Now()
	return true, nil
}

// InsertInspection creates an inspection, enforcing the booking_ref key.
func (s *MemoryStore) InsertInspection(ctx context.Context, insp *Inspection) error {
	if insp == nil {
		return fmt.Errorf("inspection is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.inspRefs[insp.BookingRef]; exists {
		return ErrDuplicateKey
	}
	if insp.CreatedAt.IsZero() {
		insp.CreatedAt = time.Now()
	}
	if insp.Status == "" {
		insp.Status = "scheduled"
	}
	stored := *insp
	s.inspections[insp.ID] = &stored
	s.inspRefs[insp.BookingRef] = insp.ID
	return nil
}

// GetInspectionByRef fetches an inspection by booking reference.
func (s *MemoryStore) GetInspectionByRef(ctx context.Context, bookingRef string) (*Inspection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.inspRefs[bookingRef]
	if !ok {
		return nil, nil
	}
	copied := *s.inspections[id]
	return &copied, nil
}

// InsertQuote creates a quote, enforcing the quote_ref key.
func (s *MemoryStore) InsertQuote(ctx context.Context, quote *Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.quoteRefs[quote.QuoteRef]; exists {
		return ErrDuplicateKey
	}
	now := time.Now()
	if quote.CreatedAt.IsZero() {
		quote.CreatedAt = now
	}
	quote.UpdatedAt = now
	if quote.Status == "" {
		quote.Status = "draft"
	}
	stored := *quote
	s.quotes[quote.ID] = &stored
	s.quoteRefs[quote.QuoteRef] = quote.ID
	return nil
}

// GetQuote fetches a quote by id.
func (s *MemoryStore) GetQuote(ctx context.Context, id string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[id]
	if !ok {
		return nil, nil
	}
	copied := *quote
	return &copied, nil
}

// GetQuoteByRef fetches a quote by its natural key.
func (s *MemoryStore) GetQuoteByRef(ctx context.Context, quoteRef string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.quoteRefs[quoteRef]
	if !ok {
		return nil, nil
	}
	copied := *s.quotes[id]
	return &copied, nil
}

// UpdateQuoteStatus moves a quote to a new status.
func (s *MemoryStore) UpdateQuoteStatus(ctx context.Context, id, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[id]
	if !ok {
		return false, nil
	}
	quote.Status = status
	quote.UpdatedAt = time.Now()
	return true, nil
}

// InsertJob creates a job, enforcing the job_ref key.
func (s *MemoryStore) InsertJob(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobRefs[job.JobRef]; exists {
		return ErrDuplicateKey
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = "scheduled"
	}
	stored := *job
	s.jobs[job.ID] = &stored
	s.jobRefs[job.JobRef] = job.ID
	return nil
}

// GetJob fetches a job by id.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

// GetJobByRef fetches a job by its natural key.
func (s *MemoryStore) GetJobByRef(ctx context.Context, jobRef string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobRefs[jobRef]
	if !ok {
		return nil, nil
	}
	copied := *s.jobs[id]
	return &copied, nil
}

// UpdateJobStatus moves a job to a new status.
func (s *MemoryStore) UpdateJobStatus(ctx context.Context, id, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	return true, nil
}

// InsertInvoice creates an invoice, enforcing the invoice_ref key.
func (s *MemoryStore) InsertInvoice(ctx context.Context, invoice *Invoice) error {
	if invoice == nil {
		return fmt.Errorf("invoice is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoiceRefs[invoice.InvoiceRef]; exists {
		return ErrDuplicateKey
	}
	now := time.Now()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now
	if invoice.Status == "" {
		invoice.Status = "issued"
	}
	stored := *invoice
	s.invoices[invoice.ID] = &stored
	s.invoiceRefs[invoice.InvoiceRef] = invoice.ID
	return nil
}

// GetInvoice fetches an invoice by id.
func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return nil, nil
	}
	copied := *invoice
	return &copied, nil
}

// GetInvoiceByRef fetches an invoice by its natural key.
func (s *MemoryStore) GetInvoiceByRef(ctx context.Context, invoiceRef string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.invoiceRefs[invoiceRef]
	if !ok {
		return nil, nil
	}
	copied := *s.invoices[id]
	return &copied, nil
}

// MarkInvoicePaid records payment.
func (s *MemoryStore) MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return false, nil
	}
	invoice.Status = "paid"
	invoice.PaidAt = &paidAt
	invoice.UpdatedAt = time.Now()
	return true, nil
}

// InsertMessage records an outbound communication.
func (s *MemoryStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = "sent"
	}
	stored := *msg
	s.messages = append(s.messages, &stored)
	return nil
}

// Messages returns recorded outbound communications. Test helper.
func (s *MemoryStore) Messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}
