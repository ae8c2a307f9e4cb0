package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog binds a client key to the transaction it produced.
type IdempotencyLog struct {
	Key           string    `json:"key"` // Format: "<operation>:<scope>:<client key>"
	TransactionID uuid.UUID `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// BuildIdempotencyKey scopes a client key to an operation and the card it targets,
// so the same client key on a different card is a different request.
func BuildIdempotencyKey(op TransactionType, scope string, clientKey string) string {
	return string(op) + ":" + scope + ":" + clientKey
}
