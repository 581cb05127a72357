package models

// ToolOutcome is what a handler returns to the engine. The engine owns the
// receipt; handlers only report their verdict, result payload, and effects.
type ToolOutcome struct {
	Status  ReceiptStatus
	Result  map[string]any
	Effects Effects

	// Populated only for not_configured outcomes.
	Reason      string
	RequiredEnv []string
	NextSteps   []string
}

// Succeeded builds a succeeded outcome with the given result payload.
func Succeeded(result map[string]any) *ToolOutcome {
	return &ToolOutcome{Status: ReceiptSucceeded, Result: result}
}

// NotConfigured builds a not_configured outcome listing the environment the
// operator must provide.
func NotConfigured(reason string, requiredEnv, nextSteps []string) *ToolOutcome {
	return &ToolOutcome{
		Status:      ReceiptNotConfigured,
		Reason:      reason,
		RequiredEnv: requiredEnv,
		NextSteps:   nextSteps,
	}
}
