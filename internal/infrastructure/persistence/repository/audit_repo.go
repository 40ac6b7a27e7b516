package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
)

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `
	id, instance_id, sequence, node_id, node_type, from_status, to_status,
	actor, comments, event_type, timestamp, published
`

// Append inserts records, assigning their IDs. Callers run it in the same
// transaction as the instance save.
func (r *AuditRepository) Append(ctx context.Context, records []*entity.AuditRecord) error {
	exec := sqlite.GetExecutor(ctx, r.db)
	for _, rec := range records {
		result, err := exec.ExecContext(ctx, `
			INSERT INTO audit_records (
				instance_id, sequence, node_id, node_type, from_status, to_status,
				actor, comments, event_type, timestamp, published
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.InstanceID,
			rec.Sequence,
			rec.NodeID,
			string(rec.NodeType),
			rec.FromStatus,
			rec.ToStatus,
			rec.Actor,
			rec.Comments,
			rec.EventType,
			rec.Timestamp,
			rec.Published,
		)
		if err != nil {
			r.logger.Error("Failed to append audit record",
				zap.String("instance_id", rec.InstanceID),
				zap.Int64("sequence", rec.Sequence),
				zap.Error(err))
			return fmt.Errorf("failed to append audit record: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		rec.ID = id
	}
	return nil
}

// ListByInstance returns an instance's audit trail in sequence order
func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.AuditRecord, error) {
	rows, err := sqlite.GetExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records WHERE instance_id = ? ORDER BY sequence`, instanceID)
	if err != nil {
		r.logger.Error("Failed to list audit records", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return scanAuditRows(rows)
}

// ListUnpublished returns the oldest records not yet delivered
func (r *AuditRepository) ListUnpublished(ctx context.Context, limit int) ([]*entity.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := sqlite.GetExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records WHERE published = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		r.logger.Error("Failed to list unpublished audit records", zap.Error(err))
		return nil, fmt.Errorf("failed to list unpublished audit records: %w", err)
	}
	return scanAuditRows(rows)
}

// MarkPublished flags the given records as delivered
func (r *AuditRepository) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := sqlite.GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE audit_records SET published = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		r.logger.Error("Failed to mark audit records published", zap.Int("count", len(ids)), zap.Error(err))
		return fmt.Errorf("failed to mark audit records published: %w", err)
	}
	return nil
}

func scanAuditRows(rows *sql.Rows) ([]*entity.AuditRecord, error) {
	defer rows.Close()

	var result []*entity.AuditRecord
	for rows.Next() {
		var rec entity.AuditRecord
		var nodeType string
		if err := rows.Scan(
			&rec.ID,
			&rec.InstanceID,
			&rec.Sequence,
			&rec.NodeID,
			&nodeType,
			&rec.FromStatus,
			&rec.ToStatus,
			&rec.Actor,
			&rec.Comments,
			&rec.EventType,
			&rec.Timestamp,
			&rec.Published,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.NodeType = entity.NodeType(nodeType)
		result = append(result, &rec)
	}
	return result, rows.Err()
}
