package store

import (
	"context"
	"time"
)

// DomainStore is the persistence surface the domain handlers use. Each tool
// family owns its tables; nothing else reads or writes them.
type DomainStore interface {
	InsertLead(ctx context.Context, lead *Lead) error
	GetLead(ctx context.Context, id string) (*Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (*Lead, error)
	UpdateLeadStatus(ctx context.Context, id, status string) (bool, error)

	InsertInspection(ctx context.Context, insp *Inspection) error
	GetInspectionByRef(ctx context.Context, bookingRef string) (*Inspection, error)

	InsertQuote(ctx context.Context, quote *Quote) error
	GetQuote(ctx context.Context, id string) (*Quote, error)
	GetQuoteByRef(ctx context.Context, quoteRef string) (*Quote, error)
	UpdateQuoteStatus(ctx context.Context, id, status string) (bool, error)

	InsertJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetJobByRef(ctx context.Context, jobRef string) (*Job, error)
	UpdateJobStatus(ctx context.Context, id, status string) (bool, error)

	InsertInvoice(ctx context.Context, invoice *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	GetInvoiceByRef(ctx context.Context, invoiceRef string) (*Invoice, error)
	MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) (bool, error)

	InsertMessage(ctx context.Context, msg *Message) error
}

// Lead is one CRM lead. Phone is the natural key.
type Lead struct {
	ID        string
	Name      string
	Phone     string
	Suburb    string
	Source    string
	Email     string
	Notes     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Inspection is a booked site inspection. BookingRef is the natural key.
type Inspection struct {
	ID          string
	LeadID      string
	BookingRef  string
	ScheduledAt time.Time
	Notes       string
	Status      string
	CreatedAt   time.Time
}

// Quote is a priced offer against a lead. QuoteRef is the natural key.
type Quote struct {
	ID          string
	LeadID      string
	QuoteRef    string
	Amount      float64
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Job is scheduled work from an accepted quote. JobRef is the natural key.
type Job struct {
	ID          string
	QuoteID     string
	JobRef      string
	ScheduledAt time.Time
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Invoice bills a job. InvoiceRef is the natural key.
type Invoice struct {
	ID         string
	JobID      string
	InvoiceRef string
	Amount     float64
	DueAt      *time.Time
	PaidAt     *time.Time
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is one outbound communication recorded for audit.
type Message struct {
	ID        string
	Channel   string
	Recipient string
	Body      string
	LeadID    string
	Status    string
	CreatedAt time.Time
}
