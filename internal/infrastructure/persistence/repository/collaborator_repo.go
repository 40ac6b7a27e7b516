package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
)

// PaymentRequestRepository reads the payments service's payment_requests table
type PaymentRequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPaymentRequestRepository creates a read-only payment request adapter
func NewPaymentRequestRepository(db *sql.DB, logger *zap.Logger) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db, logger: logger}
}

// GetPaymentRequest implements port.PaymentRequestProvider
func (r *PaymentRequestRepository) GetPaymentRequest(ctx context.Context, id string) (*entity.PaymentRequest, error) {
	var req entity.PaymentRequest
	var metadata sql.NullString

	err := sqlite.GetExecutor(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, org_id, amount, currency, status, requested_by, current_approval_level, metadata
		FROM payment_requests
		WHERE id = ?
	`, id).Scan(
		&req.ID,
		&req.OrgID,
		&req.Amount,
		&req.Currency,
		&req.Status,
		&req.RequestedBy,
		&req.CurrentApprovalLevel,
		&metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrPaymentRequestNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get payment request", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &req.Metadata); err != nil {
			r.logger.Warn("Ignoring malformed payment request metadata", zap.String("id", id), zap.Error(err))
		}
	}
	return &req, nil
}

// UserRepository reads the identity service's users table
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a read-only user adapter
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// GetUser implements port.UserDirectory
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*entity.Identity, error) {
	var user entity.Identity
	err := sqlite.GetExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, role, org_id FROM users WHERE id = ?`, userID,
	).Scan(&user.UserID, &user.Role, &user.OrgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUserNotFound, userID)
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

var (
	_ port.PaymentRequestProvider = (*PaymentRequestRepository)(nil)
	_ port.UserDirectory          = (*UserRepository)(nil)
)
