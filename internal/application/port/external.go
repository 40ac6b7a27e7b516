package port

import (
	"context"
	"time"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// PaymentRequestProvider reads payment requests owned by the payments service.
// Returns workflow.ErrPaymentRequestNotFound when absent.
type PaymentRequestProvider interface {
	GetPaymentRequest(ctx context.Context, id string) (*entity.PaymentRequest, error)
}

// UserDirectory resolves an acting user. Returns workflow.ErrUserNotFound when absent.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*entity.Identity, error)
}

// AdminAuthorizer decides whether an identity may cancel an instance
type AdminAuthorizer interface {
	CanCancel(ctx context.Context, actor entity.Identity, inst *entity.WorkflowInstance) bool
}

// StepExecutor runs an automatic NOTIFY or PAYMENT node. The returned map is
// stored as the node's result.
type StepExecutor interface {
	Execute(ctx context.Context, node entity.Node, req *entity.PaymentRequest, inst *entity.WorkflowInstance) (map[string]interface{}, error)
}

// DedupStore remembers which transitions a subscriber has already handled
type DedupStore interface {
	// Claim returns true the first time key is seen within ttl
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release forgets key so a failed handler can be retried
	Release(ctx context.Context, key string) error
}
