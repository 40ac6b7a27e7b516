package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

// Directory is an in-memory PaymentRequestProvider and UserDirectory
type Directory struct {
	mu       sync.RWMutex
	payments map[string]entity.PaymentRequest
	users    map[string]entity.Identity
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		payments: make(map[string]entity.PaymentRequest),
		users:    make(map[string]entity.Identity),
	}
}

// PutPaymentRequest adds or replaces a payment request
func (d *Directory) PutPaymentRequest(req entity.PaymentRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payments[req.ID] = req
}

// PutUser adds or replaces a user
func (d *Directory) PutUser(user entity.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.UserID] = user
}

// GetPaymentRequest implements port.PaymentRequestProvider
func (d *Directory) GetPaymentRequest(ctx context.Context, id string) (*entity.PaymentRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	req, ok := d.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrPaymentRequestNotFound, id)
	}
	return &req, nil
}

// GetUser implements port.UserDirectory
func (d *Directory) GetUser(ctx context.Context, userID string) (*entity.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUserNotFound, userID)
	}
	return &user, nil
}

var (
	_ port.PaymentRequestProvider = (*Directory)(nil)
	_ port.UserDirectory          = (*Directory)(nil)
)
