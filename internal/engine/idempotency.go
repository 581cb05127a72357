package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/pkg/models"
)

// priorReceipt runs the idempotency check for a claimed invocation, before
// the handler is consulted. It returns the receipt to reuse, or nil when the
// call must execute.
//
// safe-retry reuses any prior verdict reached under the same idempotency
// key. keyed reuses only succeeded receipts for the same tool and key value;
// a failed attempt with the same key does not block a retry.
func (e *Engine) priorReceipt(ctx context.Context, tool *registry.Tool, inv *models.Invocation) (*models.Receipt, error) {
	switch tool.Idempotency.Mode {
	case registry.IdempotencyNone:
		return nil, nil

	case registry.IdempotencySafeRetry:
		if inv.IdempotencyKey == "" {
			return nil, nil
		}
		return e.store.FindReceiptByIdempotencyKey(ctx, inv.IdempotencyKey)

	case registry.IdempotencyKeyed:
		keyValue, err := keyFieldValue(inv.Input, tool.Idempotency.KeyField)
		if err != nil {
			// Surfaced by the caller as a validation_error receipt.
			return nil, err
		}
		return e.store.FindSucceededKeyedReceipt(ctx, tool.Name, tool.Idempotency.KeyField, keyValue)

	default:
		return nil, nil
	}
}

// errMissingKey marks a keyed invocation whose input lacks the key field.
type errMissingKey struct {
	field string
}

func (e *errMissingKey) Error() string {
	return fmt.Sprintf("missing idempotency key field %q", e.field)
}

func keyFieldValue(input json.RawMessage, field string) (string, error) {
	var decoded map[string]any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return "", &errMissingKey{field: field}
	}
	value, ok := decoded[field].(string)
	if !ok || value == "" {
		return "", &errMissingKey{field: field}
	}
	return value, nil
}
