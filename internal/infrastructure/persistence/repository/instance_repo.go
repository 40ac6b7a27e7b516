package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `
	id, definition_id, payment_request_id, org_id, current_node_id, node_states,
	status, current_approval_level, version, audit_seq,
	created_at, updated_at, completed_at
`

// Create inserts a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	states, err := json.Marshal(inst.NodeStates)
	if err != nil {
		return fmt.Errorf("failed to encode node states: %w", err)
	}

	_, err = sqlite.GetExecutor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inst.ID,
		inst.DefinitionID,
		inst.PaymentRequestID,
		inst.OrgID,
		inst.CurrentNodeID,
		string(states),
		inst.Status,
		inst.CurrentApprovalLevel,
		inst.Version,
		inst.AuditSeq,
		inst.CreatedAt.UTC(),
		inst.UpdatedAt.UTC(),
		inst.CompletedAt,
	)
	if sqlite.IsUniqueViolation(err) {
		return fmt.Errorf("%w: payment request %s already has an active instance",
			workflow.ErrConcurrentModification, inst.PaymentRequestID)
	}
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	row := sqlite.GetExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return inst, nil
}

// Save writes inst if the stored version still equals expectedVersion
func (r *InstanceRepository) Save(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error {
	states, err := json.Marshal(inst.NodeStates)
	if err != nil {
		return fmt.Errorf("failed to encode node states: %w", err)
	}

	exec := sqlite.GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_node_id = ?, node_states = ?, status = ?, current_approval_level = ?,
			version = ?, audit_seq = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?
	`,
		inst.CurrentNodeID,
		string(states),
		inst.Status,
		inst.CurrentApprovalLevel,
		expectedVersion+1,
		inst.AuditSeq,
		inst.UpdatedAt.UTC(),
		inst.CompletedAt,
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to save instance", zap.String("id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to save instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var current int64
		err := exec.QueryRowContext(ctx, `SELECT version FROM workflow_instances WHERE id = ?`, inst.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, inst.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read instance version: %w", err)
		}
		return fmt.Errorf("%w: instance %s is at version %d, expected %d",
			workflow.ErrConcurrentModification, inst.ID, current, expectedVersion)
	}

	inst.Version = expectedVersion + 1
	return nil
}

// GetActiveByPaymentRequest returns the non-terminal instance for a payment request
func (r *InstanceRepository) GetActiveByPaymentRequest(ctx context.Context, paymentRequestID string) (*entity.WorkflowInstance, error) {
	row := sqlite.GetExecutor(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE payment_request_id = ? AND status IN (?, ?, ?)
		LIMIT 1
	`, paymentRequestID, entity.StatusPending, entity.StatusRunning, entity.StatusApproved)

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active instance for payment request %s", workflow.ErrInstanceNotFound, paymentRequestID)
	}
	if err != nil {
		r.logger.Error("Failed to get active instance",
			zap.String("payment_request_id", paymentRequestID), zap.Error(err))
		return nil, err
	}
	return inst, nil
}

// ListByStatus returns instances with the given status, oldest first
func (r *InstanceRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.WorkflowInstance, error) {
	return r.list(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?
	`, status, normalizeLimit(limit))
}

// ListIdle returns instances with the given status last updated before
// idleSince, least recently updated first
func (r *InstanceRepository) ListIdle(ctx context.Context, status string, idleSince time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	return r.list(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, status, idleSince.UTC(), normalizeLimit(limit))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func (r *InstanceRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.WorkflowInstance, error) {
	rows, err := sqlite.GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var result []*entity.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row scanner) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	var states string
	var completedAt sql.NullTime

	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.PaymentRequestID,
		&inst.OrgID,
		&inst.CurrentNodeID,
		&states,
		&inst.Status,
		&inst.CurrentApprovalLevel,
		&inst.Version,
		&inst.AuditSeq,
		&inst.CreatedAt,
		&inst.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(states), &inst.NodeStates); err != nil {
		return nil, fmt.Errorf("failed to decode node states: %w", err)
	}
	if inst.NodeStates == nil {
		inst.NodeStates = make(map[string]entity.NodeState)
	}
	if completedAt.Valid {
		t := completedAt.Time
		inst.CompletedAt = &t
	}
	return &inst, nil
}
