package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

type instanceRow struct {
	inst *entity.WorkflowInstance
}

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	store *Store
}

// NewInstanceRepository creates an instance repository over store
func NewInstanceRepository(store *Store) *InstanceRepository {
	return &InstanceRepository{store: store}
}

// Create inserts a new instance. Only one non-terminal instance may exist per
// payment request.
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.instances[inst.ID]; exists {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	if !workflow.State(inst.Status).IsTerminal() {
		for _, row := range r.store.instances {
			if row.inst.PaymentRequestID == inst.PaymentRequestID && !workflow.State(row.inst.Status).IsTerminal() {
				return fmt.Errorf("%w: payment request %s already has active instance %s",
					workflow.ErrConcurrentModification, inst.PaymentRequestID, row.inst.ID)
			}
		}
	}

	id := inst.ID
	r.store.instances[id] = &instanceRow{inst: inst.Clone()}
	recordUndo(ctx, func() { delete(r.store.instances, id) })
	return nil
}

// GetByID returns a copy of the stored instance
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	row, ok := r.store.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, id)
	}
	return row.inst.Clone(), nil
}

// Save replaces the instance if its stored version equals expectedVersion
func (r *InstanceRepository) Save(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	row, ok := r.store.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, inst.ID)
	}
	if row.inst.Version != expectedVersion {
		return fmt.Errorf("%w: instance %s is at version %d, expected %d",
			workflow.ErrConcurrentModification, inst.ID, row.inst.Version, expectedVersion)
	}

	previous := row.inst
	inst.Version = expectedVersion + 1
	row.inst = inst.Clone()
	recordUndo(ctx, func() { row.inst = previous })
	return nil
}

// GetActiveByPaymentRequest returns the non-terminal instance for a payment request
func (r *InstanceRepository) GetActiveByPaymentRequest(ctx context.Context, paymentRequestID string) (*entity.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, row := range r.store.instances {
		if row.inst.PaymentRequestID == paymentRequestID && !workflow.State(row.inst.Status).IsTerminal() {
			return row.inst.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no active instance for payment request %s", workflow.ErrInstanceNotFound, paymentRequestID)
}

// ListByStatus returns instances with the given status, oldest first
func (r *InstanceRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var result []*entity.WorkflowInstance
	for _, row := range r.store.instances {
		if row.inst.Status == status {
			result = append(result, row.inst.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListIdle returns instances with the given status last updated before
// idleSince, least recently updated first
func (r *InstanceRepository) ListIdle(ctx context.Context, status string, idleSince time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var result []*entity.WorkflowInstance
	for _, row := range r.store.instances {
		if row.inst.Status == status && row.inst.UpdatedAt.Before(idleSince) {
			result = append(result, row.inst.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ port.InstanceRepository = (*InstanceRepository)(nil)
