package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

// stubPlanner is a canned Planner for tests.
type stubPlanner struct {
	planned []models.PlannedCall
	reason  string
	err     error
	calls   int
}

func (p *stubPlanner) Plan(ctx context.Context, message string, tools []*registry.Tool) ([]models.PlannedCall, string, error) {
	p.calls++
	return p.planned, p.reason, p.err
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func newTestBrain(t *testing.T, st store.Store, planner Planner) *Brain {
	t.Helper()
	reg, err := registry.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return New(st, reg, planner, quietLogger(), nil)
}

func TestRunRejectsEmptyMessage(t *testing.T) {
	b := newTestBrain(t, store.NewMemoryStore(), nil)
	if _, err := b.Run(context.Background(), &models.BrainRequest{Mode: models.ModeAnswer}); err == nil {
		t.Fatal("Run() with empty message did not error")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	b := newTestBrain(t, store.NewMemoryStore(), nil)
	req := &models.BrainRequest{Message: "health check", Mode: "yolo"}
	if _, err := b.Run(context.Background(), req); err == nil {
		t.Fatal("Run() with unknown mode did not error")
	}
}

func TestRuleMatchesLeadCreate(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, nil)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "new lead: Maria Santos, 0412 345 678, in Thornbury",
		Mode:    models.ModePlan,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("Run() not ok, errors: %v", resp.Errors)
	}
	if resp.Decision.Source != "rules" {
		t.Fatalf("decision source = %q, want rules", resp.Decision.Source)
	}
	if len(resp.Planned) != 1 || resp.Planned[0].ToolName != "leads.create" {
		t.Fatalf("planned = %+v, want one leads.create", resp.Planned)
	}

	var input map[string]any
	if err := json.Unmarshal(resp.Planned[0].Input, &input); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if input["phone"] != "0412345678" {
		t.Errorf("phone = %v, want digits with spaces stripped", input["phone"])
	}
	if input["suburb"] != "Thornbury" {
		t.Errorf("suburb = %v, want Thornbury", input["suburb"])
	}
	if input["source"] != "chat" {
		t.Errorf("source = %v, want default chat", input["source"])
	}

	// plan mode never writes queue rows
	if got := st.CountInvocations(); got != 0 {
		t.Errorf("invocations after plan mode = %d, want 0", got)
	}
	if !strings.Contains(resp.Decision.Reason, "awaiting approval") {
		t.Errorf("plan mode reason = %q, want approval note", resp.Decision.Reason)
	}
}

func TestRuleTable(t *testing.T) {
	b := newTestBrain(t, store.NewMemoryStore(), nil)

	cases := []struct {
		message string
		tool    string
	}{
		{"run a health check please", "os.health_check"},
		{"move lead ld-1 to quoted", "leads.update_stage"},
		{"show lead ld-1", "leads.get"},
		{"book inspection BK-9 for lead ld-1 at 2026-09-01T09:00:00Z", "inspections.schedule"},
		{"create quote Q-77 for lead ld-1 at $4200", "quotes.create"},
		{"accept quote qt-3", "quotes.accept"},
		{"create job J-5 from quote qt-3 on 2026-09-02T08:00:00Z", "jobs.create"},
		{"mark job jb-5 as completed", "jobs.update_stage"},
		{"invoice job jb-5 for $4200 ref INV-12", "invoices.create"},
		{"mark invoice in-9 as paid", "invoices.mark_paid"},
		{"sms +61412345678: your inspection is confirmed", "comms.send_sms"},
		{"email to maria@example.com subject Quote ready: see attached quote", "comms.send_email"},
	}
	for _, tc := range cases {
		resp, err := b.Run(context.Background(), &models.BrainRequest{
			Message: tc.message,
			Mode:    models.ModeAnswer,
		})
		if err != nil {
			t.Fatalf("Run(%q) error: %v", tc.message, err)
		}
		if len(resp.Planned) != 1 {
			t.Errorf("Run(%q) planned %d calls, errors %v", tc.message, len(resp.Planned), resp.Errors)
			continue
		}
		if resp.Planned[0].ToolName != tc.tool {
			t.Errorf("Run(%q) planned %s, want %s", tc.message, resp.Planned[0].ToolName, tc.tool)
		}
	}
}

func TestNoRuleAndNoPlannerReturnsEmptyPlan(t *testing.T) {
	b := newTestBrain(t, store.NewMemoryStore(), nil)
	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "what's the weather like",
		Mode:    models.ModeEnqueue,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Decision.Source != "none" {
		t.Errorf("decision source = %q, want none", resp.Decision.Source)
	}
	if len(resp.Planned) != 0 || len(resp.Enqueued) != 0 {
		t.Errorf("empty plan enqueued something: %+v", resp)
	}
	if !resp.OK {
		t.Errorf("empty plan should still be ok, errors: %v", resp.Errors)
	}
}

func TestPlannerFallbackUsedWhenNoRuleMatches(t *testing.T) {
	planner := &stubPlanner{
		planned: []models.PlannedCall{{
			ToolName:   "leads.get",
			Input:      json.RawMessage(`{"lead_id":"ld-1"}`),
			Confidence: 0.7,
		}},
		reason: "plan produced by the language model",
	}
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, planner)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "who is that customer from yesterday?",
		Mode:    models.ModeEnqueue,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if planner.calls != 1 {
		t.Fatalf("planner called %d times, want 1", planner.calls)
	}
	if resp.Decision.Source != "llm" {
		t.Errorf("decision source = %q, want llm", resp.Decision.Source)
	}
	if len(resp.Enqueued) != 1 {
		t.Fatalf("enqueued %d calls, want 1", len(resp.Enqueued))
	}
}

func TestPlannerNotConsultedWhenRuleMatches(t *testing.T) {
	planner := &stubPlanner{}
	b := newTestBrain(t, store.NewMemoryStore(), planner)
	if _, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "show lead ld-1",
		Mode:    models.ModeAnswer,
	}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if planner.calls != 0 {
		t.Errorf("planner called %d times for a rule-matched message", planner.calls)
	}
}

func TestInvalidPlanAbortsBeforeEnqueue(t *testing.T) {
	planner := &stubPlanner{
		planned: []models.PlannedCall{
			{ToolName: "leads.get", Input: json.RawMessage(`{"lead_id":"ld-1"}`)},
			{ToolName: "leads.vaporize", Input: json.RawMessage(`{}`)},
		},
	}
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, planner)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "do the thing",
		Mode:    models.ModeEnqueue,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(resp.Errors) == 0 {
		t.Fatal("invalid plan produced no errors")
	}
	// One bad candidate keeps the whole plan out of the queue.
	if got := st.CountInvocations(); got != 0 {
		t.Errorf("invocations = %d, want 0 after aborted plan", got)
	}
	if len(resp.Enqueued) != 0 {
		t.Errorf("enqueued = %v, want empty", resp.Enqueued)
	}
}

func TestInvalidInputAbortsBeforeEnqueue(t *testing.T) {
	planner := &stubPlanner{
		planned: []models.PlannedCall{
			{ToolName: "leads.get", Input: json.RawMessage(`{}`)}, // missing lead_id
		},
	}
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, planner)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "look it up",
		Mode:    models.ModeEnqueue,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(resp.Errors) == 0 || st.CountInvocations() != 0 {
		t.Errorf("schema-invalid plan was not aborted: errors=%v rows=%d", resp.Errors, st.CountInvocations())
	}
}

func TestMaxToolCallsTruncatesPlan(t *testing.T) {
	planner := &stubPlanner{
		planned: []models.PlannedCall{
			{ToolName: "leads.get", Input: json.RawMessage(`{"lead_id":"ld-1"}`)},
			{ToolName: "leads.get", Input: json.RawMessage(`{"lead_id":"ld-2"}`)},
			{ToolName: "leads.get", Input: json.RawMessage(`{"lead_id":"ld-3"}`)},
		},
	}
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, planner)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "fetch them all",
		Mode:    models.ModeEnqueue,
		Limits:  models.BrainLimits{MaxToolCalls: 2},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(resp.Planned) != 2 {
		t.Errorf("planned = %d, want 2 after truncation", len(resp.Planned))
	}
	if got := st.CountInvocations(); got != 2 {
		t.Errorf("invocations = %d, want 2", got)
	}
}

func TestContextFillsDeclaredFields(t *testing.T) {
	planner := &stubPlanner{
		planned: []models.PlannedCall{{
			ToolName: "quotes.create",
			Input:    json.RawMessage(`{"amount":4200,"quote_ref":"Q-1"}`),
		}},
	}
	b := newTestBrain(t, store.NewMemoryStore(), planner)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "quote them 4200",
		Mode:    models.ModePlan,
		Context: map[string]string{"lead_id": "ld-42", "invoice_id": "ignored"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(resp.Errors) > 0 {
		t.Fatalf("context fill did not repair the plan: %v", resp.Errors)
	}

	var input map[string]any
	if err := json.Unmarshal(resp.Planned[0].Input, &input); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if input["lead_id"] != "ld-42" {
		t.Errorf("lead_id = %v, want ld-42 from context", input["lead_id"])
	}
	if _, present := input["invoice_id"]; present {
		t.Error("invoice_id injected into a schema that does not declare it")
	}
}

func TestContextDoesNotOverwriteExtractedValue(t *testing.T) {
	b := newTestBrain(t, store.NewMemoryStore(), nil)
	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "show lead ld-explicit",
		Mode:    models.ModeAnswer,
		Context: map[string]string{"lead_id": "ld-context"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	var input map[string]any
	if err := json.Unmarshal(resp.Planned[0].Input, &input); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if input["lead_id"] != "ld-explicit" {
		t.Errorf("lead_id = %v, extracted value was overwritten", input["lead_id"])
	}
}

func TestEnqueueIsBestEffort(t *testing.T) {
	planner := &stubPlanner{
		planned: []models.PlannedCall{
			{ToolName: "leads.get", Input: json.RawMessage(`{"lead_id":"ld-1"}`), IdempotencyKey: "evt-1"},
			{ToolName: "leads.get", Input: json.RawMessage(`{"lead_id":"ld-1"}`), IdempotencyKey: "evt-1"},
		},
	}
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, planner)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "fetch twice",
		Mode:    models.ModeEnqueue,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(resp.Enqueued) != 1 {
		t.Errorf("enqueued = %d, want 1 (duplicate key rejected)", len(resp.Enqueued))
	}
	if len(resp.Errors) != 1 {
		t.Errorf("errors = %v, want the duplicate reported", resp.Errors)
	}
	if resp.OK {
		t.Error("partial enqueue reported ok")
	}
}

func TestEnqueueAndWaitCollectsReceipts(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, nil)

	// Stand-in worker: claim and seal whatever the brain enqueues.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go func() {
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			inv, err := st.Claim(workerCtx, "test-worker")
			if err != nil || inv == nil {
				continue
			}
			receipt := &models.Receipt{
				ID:       "rc-" + inv.CallID,
				CallID:   inv.CallID,
				ToolName: inv.ToolName,
				Status:   models.ReceiptSucceeded,
				Result:   json.RawMessage(`{"lead_id":"ld-1","name":"Maria","phone":"0412345678"}`),
			}
			if err := st.InsertReceipt(workerCtx, receipt); err != nil {
				continue
			}
			_ = st.MarkTerminal(workerCtx, inv.CallID, models.StatusSucceeded, "")
		}
	}()

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "show lead ld-1",
		Mode:    models.ModeEnqueueAndWait,
		Limits:  models.BrainLimits{WaitTimeoutMS: 2000, PollIntervalMS: 10},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("Run() not ok, errors: %v", resp.Errors)
	}
	if len(resp.Receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(resp.Receipts))
	}
	if resp.Receipts[0].Status != models.ReceiptSucceeded {
		t.Errorf("receipt status = %q, want succeeded", resp.Receipts[0].Status)
	}
	if len(resp.Pending) != 0 {
		t.Errorf("pending = %v, want empty", resp.Pending)
	}
}

func TestEnqueueAndWaitTimesOutWithPending(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, nil)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "show lead ld-1",
		Mode:    models.ModeEnqueueAndWait,
		Limits:  models.BrainLimits{WaitTimeoutMS: 50, PollIntervalMS: 10},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(resp.Pending) != 1 {
		t.Fatalf("pending = %v, want the unsealed call", resp.Pending)
	}
	if len(resp.Errors) == 0 {
		t.Error("timed-out wait reported no error")
	}
	// The invocation itself keeps running; only the caller stopped waiting.
	inv, err := st.GetInvocation(context.Background(), resp.Pending[0])
	if err != nil || inv == nil {
		t.Fatalf("GetInvocation() = %v, %v", inv, err)
	}
	if inv.Status != models.StatusQueued {
		t.Errorf("invocation status = %q, want still queued", inv.Status)
	}
}

func TestRunWritesAuditRecord(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBrain(t, st, nil)

	resp, err := b.Run(context.Background(), &models.BrainRequest{
		Message: "show lead ld-1",
		Mode:    models.ModeEnqueue,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	run, ok := st.GetBrainRun(resp.RunID)
	if !ok {
		t.Fatalf("no audit record for run %s", resp.RunID)
	}
	if run.Mode != "enqueue" || run.Status != "ok" {
		t.Errorf("audit record = mode %q status %q", run.Mode, run.Status)
	}
	var planned []models.PlannedCall
	if err := json.Unmarshal(run.Planned, &planned); err != nil || len(planned) != 1 {
		t.Errorf("audit planned = %s, want one call", run.Planned)
	}
}

func TestParsePlanToleratesCodeFences(t *testing.T) {
	cases := []string{
		`[{"tool_name":"leads.get","input":{"lead_id":"ld-1"},"confidence":0.8}]`,
		"```json\n[{\"tool_name\":\"leads.get\",\"input\":{\"lead_id\":\"ld-1\"}}]\n```",
		"```\n[{\"tool_name\":\"leads.get\",\"input\":{\"lead_id\":\"ld-1\"}}]\n```",
	}
	for i, text := range cases {
		planned, err := parsePlan(text)
		if err != nil {
			t.Errorf("case %d: parsePlan() error: %v", i, err)
			continue
		}
		if len(planned) != 1 || planned[0].ToolName != "leads.get" {
			t.Errorf("case %d: planned = %+v", i, planned)
		}
	}
}

func TestParsePlanRejectsProse(t *testing.T) {
	if _, err := parsePlan("Sure! Here is the plan you asked for."); err == nil {
		t.Fatal("parsePlan() accepted prose")
	}
}

func TestParsePlanDefaultsEmptyInput(t *testing.T) {
	planned, err := parsePlan(`[{"tool_name":"os.health_check"}]`)
	if err != nil {
		t.Fatalf("parsePlan() error: %v", err)
	}
	if string(planned[0].Input) != `{}` {
		t.Errorf("input = %s, want {}", planned[0].Input)
	}
}

func TestCatalogueSummaryListsEveryTool(t *testing.T) {
	reg, err := registry.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	summary := catalogueSummary(reg.All())
	for _, tool := range reg.All() {
		if !strings.Contains(summary, fmt.Sprintf("- %s:", tool.Name)) {
			t.Errorf("summary missing %s", tool.Name)
		}
	}
}
