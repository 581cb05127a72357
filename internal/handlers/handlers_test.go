package handlers

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gemhq/gem/internal/engine"
	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

func testDeps(t *testing.T) (*Deps, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	deps := &Deps{
		Store:  st,
		Logger: observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard}),
	}
	return deps, st
}

func callWith(input map[string]any) *engine.Call {
	return &engine.Call{CallID: "call-test", Input: input}
}

func TestRegisterCoversCatalogue(t *testing.T) {
	deps, _ := testDeps(t)
	d := engine.NewDispatcher()
	if err := Register(d, deps); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	reg, err := registry.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	for _, tool := range reg.All() {
		if d.Resolve(tool.Name) == nil {
			t.Errorf("catalogue tool %q has no handler", tool.Name)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	deps, _ := testDeps(t)
	h := &osHandlers{deps: deps}

	outcome, err := h.healthCheck(context.Background(), callWith(map[string]any{}))
	if err != nil {
		t.Fatalf("healthCheck() error: %v", err)
	}
	if outcome.Status != models.ReceiptSucceeded {
		t.Errorf("status = %q, want succeeded", outcome.Status)
	}
	if outcome.Result["database"] != "ok" {
		t.Errorf("database = %v, want ok", outcome.Result["database"])
	}
	if _, err := time.Parse(time.RFC3339, outcome.Result["time"].(string)); err != nil {
		t.Errorf("time is not RFC3339: %v", err)
	}
}

func leadInput() map[string]any {
	return map[string]any{
		"name":   "John",
		"phone":  "0412345678",
		"suburb": "Clayton",
		"source": "test",
	}
}

func TestLeadCreate(t *testing.T) {
	deps, st := testDeps(t)
	h := &leadHandlers{deps: deps}

	outcome, err := h.create(context.Background(), callWith(leadInput()))
	if err != nil {
		t.Fatalf("create() error: %v", err)
	}
	if outcome.Result["created"] != true {
		t.Error("first create should report created=true")
	}
	if len(outcome.Effects.DBWrites) != 1 {
		t.Errorf("effects should record the insert, got %+v", outcome.Effects)
	}

	lead, err := st.GetLeadByPhone(context.Background(), "0412345678")
	if err != nil || lead == nil {
		t.Fatalf("lead was not persisted: %v", err)
	}
	if lead.Status != "new" {
		t.Errorf("new lead status = %q, want new", lead.Status)
	}
}

func TestLeadCreateDuplicatePhoneReuses(t *testing.T) {
	deps, _ := testDeps(t)
	h := &leadHandlers{deps: deps}
	ctx := context.Background()

	first, err := h.create(ctx, callWith(leadInput()))
	if err != nil {
		t.Fatalf("create() error: %v", err)
	}
	second, err := h.create(ctx, callWith(leadInput()))
	if err != nil {
		t.Fatalf("duplicate create() error: %v", err)
	}

	if second.Status != models.ReceiptSucceeded {
		t.Errorf("duplicate status = %q, want succeeded", second.Status)
	}
	if second.Result["created"] != false {
		t.Error("duplicate create should report created=false")
	}
	if first.Result["lead_id"] != second.Result["lead_id"] {
		t.Errorf("lead ids differ: %v vs %v", first.Result["lead_id"], second.Result["lead_id"])
	}
}

func TestLeadCreateConcurrentSamePhone(t *testing.T) {
	deps, st := testDeps(t)
	h := &leadHandlers{deps: deps}
	ctx := context.Background()

	const n = 8
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.create(ctx, callWith(leadInput()))
			if err != nil {
				t.Errorf("create() error: %v", err)
				return
			}
			ids <- outcome.Result["lead_id"].(string)
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("concurrent creates produced %d distinct lead ids, want 1", len(seen))
	}

	lead, err := st.GetLeadByPhone(ctx, "0412345678")
	if err != nil || lead == nil {
		t.Fatalf("lead missing: %v", err)
	}
}

func TestLeadUpdateStageMapsToStatus(t *testing.T) {
	deps, st := testDeps(t)
	h := &leadHandlers{deps: deps}
	ctx := context.Background()

	created, err := h.create(ctx, callWith(leadInput()))
	if err != nil {
		t.Fatalf("create() error: %v", err)
	}
	leadID := created.Result["lead_id"].(string)

	outcome, err := h.updateStage(ctx, callWith(map[string]any{"lead_id": leadID, "stage": "quoted"}))
	if err != nil {
		t.Fatalf("updateStage() error: %v", err)
	}
	if outcome.Result["stage"] != "quoted" {
		t.Errorf("stage = %v, want quoted", outcome.Result["stage"])
	}

	lead, _ := st.GetLead(ctx, leadID)
	if lead.Status != "quoted" {
		t.Errorf("db status = %q, want quoted (stage maps to status)", lead.Status)
	}
}

func TestLeadUpdateStageNotFound(t *testing.T) {
	deps, _ := testDeps(t)
	h := &leadHandlers{deps: deps}

	if _, err := h.updateStage(context.Background(), callWith(map[string]any{"lead_id": "missing", "stage": "won"})); err == nil {
		t.Error("updating a missing lead should error")
	}
}

func TestLeadGet(t *testing.T) {
	deps, _ := testDeps(t)
	h := &leadHandlers{deps: deps}
	ctx := context.Background()

	created, err := h.create(ctx, callWith(leadInput()))
	if err != nil {
		t.Fatalf("create() error: %v", err)
	}
	leadID := created.Result["lead_id"].(string)

	outcome, err := h.get(ctx, callWith(map[string]any{"lead_id": leadID}))
	if err != nil {
		t.Fatalf("get() error: %v", err)
	}
	if outcome.Result["phone"] != "0412345678" || outcome.Result["stage"] != "new" {
		t.Errorf("unexpected lead payload: %+v", outcome.Result)
	}

	if _, err := h.get(ctx, callWith(map[string]any{"lead_id": "missing"})); err == nil {
		t.Error("fetching a missing lead should error")
	}
}

func TestQuoteLifecycle(t *testing.T) {
	deps, _ := testDeps(t)
	quotes := &quoteHandlers{deps: deps}
	ctx := context.Background()

	created, err := quotes.create(ctx, callWith(map[string]any{
		"lead_id":   "L1",
		"amount":    float64(1500),
		"quote_ref": "Q-100",
	}))
	if err != nil {
		t.Fatalf("create() error: %v", err)
	}
	quoteID := created.Result["quote_id"].(string)

	dup, err := quotes.create(ctx, callWith(map[string]any{
		"lead_id":   "L1",
		"amount":    float64(1500),
		"quote_ref": "Q-100",
	}))
	if err != nil {
		t.Fatalf("duplicate create() error: %v", err)
	}
	if dup.Result["quote_id"] != quoteID || dup.Result["created"] != false {
		t.Errorf("duplicate quote_ref should reuse %s, got %+v", quoteID, dup.Result)
	}

	accepted, err := quotes.accept(ctx, callWith(map[string]any{"quote_id": quoteID}))
	if err != nil {
		t.Fatalf("accept() error: %v", err)
	}
	if accepted.Result["status"] != "accepted" {
		t.Errorf("status = %v, want accepted", accepted.Result["status"])
	}
}

func TestJobCreateRequiresQuote(t *testing.T) {
	deps, _ := testDeps(t)
	jobs := &jobHandlers{deps: deps}

	_, err := jobs.create(context.Background(), callWith(map[string]any{
		"quote_id":     "missing",
		"job_ref":      "J-1",
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	}))
	if err == nil {
		t.Error("creating a job for a missing quote should error")
	}
}

func TestJobAndInvoiceLifecycle(t *testing.T) {
	deps, st := testDeps(t)
	quotes := &quoteHandlers{deps: deps}
	jobs := &jobHandlers{deps: deps}
	invoices := &invoiceHandlers{deps: deps}
	ctx := context.Background()

	quote, err := quotes.create(ctx, callWith(map[string]any{
		"lead_id": "L1", "amount": float64(900), "quote_ref": "Q-1",
	}))
	if err != nil {
		t.Fatalf("quote create error: %v", err)
	}
	quoteID := quote.Result["quote_id"].(string)

	job, err := jobs.create(ctx, callWith(map[string]any{
		"quote_id":     quoteID,
		"job_ref":      "J-1",
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	}))
	if err != nil {
		t.Fatalf("job create error: %v", err)
	}
	jobID := job.Result["job_id"].(string)

	if _, err := jobs.updateStage(ctx, callWith(map[string]any{"job_id": jobID, "stage": "completed"})); err != nil {
		t.Fatalf("job updateStage error: %v", err)
	}

	invoice, err := invoices.create(ctx, callWith(map[string]any{
		"job_id": jobID, "amount": float64(900), "invoice_ref": "INV-1",
	}))
	if err != nil {
		t.Fatalf("invoice create error: %v", err)
	}
	invoiceID := invoice.Result["invoice_id"].(string)

	paid, err := invoices.markPaid(ctx, callWith(map[string]any{"invoice_id": invoiceID}))
	if err != nil {
		t.Fatalf("markPaid error: %v", err)
	}
	if paid.Result["status"] != "paid" {
		t.Errorf("status = %v, want paid", paid.Result["status"])
	}

	row, _ := st.GetInvoice(ctx, invoiceID)
	if row.Status != "paid" || row.PaidAt == nil {
		t.Errorf("invoice row = %+v, want paid with timestamp", row)
	}
}

func TestSendSMSNotConfigured(t *testing.T) {
	deps, _ := testDeps(t)
	comms := &commsHandlers{deps: deps}

	outcome, err := comms.sendSMS(context.Background(), callWith(map[string]any{
		"to": "0412345678", "body": "hello",
	}))
	if err != nil {
		t.Fatalf("sendSMS() error: %v", err)
	}
	if outcome.Status != models.ReceiptNotConfigured {
		t.Fatalf("status = %q, want not_configured", outcome.Status)
	}
	if len(outcome.RequiredEnv) == 0 || len(outcome.NextSteps) == 0 {
		t.Errorf("required_env and next_steps must be populated: %+v", outcome)
	}
}

func TestSendSMSConfigured(t *testing.T) {
	deps, st := testDeps(t)
	deps.SMS = SMSConfig{APIKey: "key", From: "+61400000000"}
	comms := &commsHandlers{deps: deps}

	outcome, err := comms.sendSMS(context.Background(), callWith(map[string]any{
		"to": "0412345678", "body": "hello", "lead_id": "L1",
	}))
	if err != nil {
		t.Fatalf("sendSMS() error: %v", err)
	}
	if outcome.Status != models.ReceiptSucceeded {
		t.Fatalf("status = %q, want succeeded", outcome.Status)
	}
	if outcome.Result["channel"] != "sms" || outcome.Result["message_id"] == "" {
		t.Errorf("unexpected result: %+v", outcome.Result)
	}
	if len(outcome.Effects.MessagesSent) != 1 {
		t.Errorf("effects should record the send: %+v", outcome.Effects)
	}

	msgs := st.Messages()
	if len(msgs) != 1 || msgs[0].Channel != "sms" || msgs[0].LeadID != "L1" {
		t.Errorf("message audit row = %+v", msgs)
	}
}

func TestSendEmailNotConfigured(t *testing.T) {
	deps, _ := testDeps(t)
	comms := &commsHandlers{deps: deps}

	outcome, err := comms.sendEmail(context.Background(), callWith(map[string]any{
		"to": "a@b.co", "subject": "hi", "body": "hello",
	}))
	if err != nil {
		t.Fatalf("sendEmail() error: %v", err)
	}
	if outcome.Status != models.ReceiptNotConfigured {
		t.Fatalf("status = %q, want not_configured", outcome.Status)
	}
}
