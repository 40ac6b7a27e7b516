package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

// DefinitionService is the authoring boundary for workflow definitions
type DefinitionService interface {
	// Register validates def and stores it as a new version
	Register(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)
	Get(ctx context.Context, id string) (*entity.WorkflowDefinition, error)
	Latest(ctx context.Context, orgID string) (*entity.WorkflowDefinition, error)
}

type definitionServiceImpl struct {
	repo      port.DefinitionRepository
	validate  *validator.Validate
	evaluator workflow.Evaluator
	logger    Logger
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(
	repo port.DefinitionRepository,
	validate *validator.Validate,
	evaluator workflow.Evaluator,
	logger Logger,
) DefinitionService {
	return &definitionServiceImpl{
		repo:      repo,
		validate:  validate,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Register implements DefinitionService
func (s *definitionServiceImpl) Register(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is required", ErrValidationFailed)
	}
	if err := s.validate.Struct(def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := workflow.ValidateDefinition(def, s.evaluator); err != nil {
		s.logger.Info("Definition rejected", "org_id", def.OrgID, "error", err)
		return nil, err
	}

	stored := *def
	if err := s.repo.Save(ctx, &stored); err != nil {
		s.logger.Error("Failed to save definition", "error", err, "org_id", def.OrgID)
		return nil, err
	}

	s.logger.Info("Definition registered",
		"definition_id", stored.ID,
		"org_id", stored.OrgID,
		"version", stored.Version,
	)
	return &stored, nil
}

// Get implements DefinitionService
func (s *definitionServiceImpl) Get(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	return s.repo.GetByID(ctx, id)
}

// Latest implements DefinitionService
func (s *definitionServiceImpl) Latest(ctx context.Context, orgID string) (*entity.WorkflowDefinition, error) {
	return s.repo.GetLatestByOrg(ctx, orgID)
}
