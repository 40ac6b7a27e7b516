package memory

import (
	"context"
	"fmt"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

type auditRow struct {
	rec entity.AuditRecord
}

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	store *Store
}

// NewAuditRepository creates an audit repository over store
func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{store: store}
}

// Append stores records and assigns their IDs
func (r *AuditRepository) Append(ctx context.Context, records []*entity.AuditRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, rec := range records {
		for _, row := range r.store.audits {
			if row.rec.InstanceID == rec.InstanceID && row.rec.Sequence == rec.Sequence {
				return fmt.Errorf("audit sequence %d already recorded for instance %s", rec.Sequence, rec.InstanceID)
			}
		}
	}

	before := len(r.store.audits)
	seqBefore := r.store.auditSeq
	for _, rec := range records {
		r.store.auditSeq++
		rec.ID = r.store.auditSeq
		r.store.audits = append(r.store.audits, &auditRow{rec: *rec})
	}
	recordUndo(ctx, func() {
		r.store.audits = r.store.audits[:before]
		r.store.auditSeq = seqBefore
	})
	return nil
}

// ListByInstance returns an instance's records in sequence order
func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.AuditRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var result []*entity.AuditRecord
	for _, row := range r.store.audits {
		if row.rec.InstanceID == instanceID {
			rec := row.rec
			result = append(result, &rec)
		}
	}
	return result, nil
}

// ListUnpublished returns the oldest unpublished records
func (r *AuditRepository) ListUnpublished(ctx context.Context, limit int) ([]*entity.AuditRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var result []*entity.AuditRecord
	for _, row := range r.store.audits {
		if row.rec.Published {
			continue
		}
		rec := row.rec
		result = append(result, &rec)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// MarkPublished flags records as delivered
func (r *AuditRepository) MarkPublished(ctx context.Context, ids []int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, row := range r.store.audits {
		if wanted[row.rec.ID] {
			row.rec.Published = true
		}
	}
	return nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
