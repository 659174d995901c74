package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderError is a non-2xx answer from a payment provider. Message is the
// provider's own description and is safe to show to an operator.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// RefundResult is what every provider returns for an accepted refund.
type RefundResult struct {
	ID        string
	Status    string
	CreatedAt time.Time
	Raw       json.RawMessage
}
