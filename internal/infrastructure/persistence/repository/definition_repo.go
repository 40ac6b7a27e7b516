package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
)

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sql.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// graph is the stored shape of a definition's nodes and edges
type graph struct {
	Nodes []entity.Node `json:"nodes"`
	Edges []entity.Edge `json:"edges"`
}

// Save inserts def as the next version for its organization. Concurrent
// registrations race on UNIQUE(org_id, version); the loser retries.
func (r *DefinitionRepository) Save(ctx context.Context, def *entity.WorkflowDefinition) error {
	data, err := json.Marshal(graph{Nodes: def.Nodes, Edges: def.Edges})
	if err != nil {
		return fmt.Errorf("failed to encode definition graph: %w", err)
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		exec := sqlite.GetExecutor(ctx, r.db)

		var latest int
		err := exec.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE org_id = ?`, def.OrgID,
		).Scan(&latest)
		if err != nil {
			return fmt.Errorf("failed to read latest definition version: %w", err)
		}

		id := uuid.NewString()
		createdAt := time.Now().UTC()
		_, err = exec.ExecContext(ctx, `
			INSERT INTO workflow_definitions (id, org_id, name, version, graph, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, def.OrgID, def.Name, latest+1, string(data), createdAt)
		if sqlite.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			r.logger.Error("Failed to create definition", zap.String("org_id", def.OrgID), zap.Error(err))
			return fmt.Errorf("failed to create definition: %w", err)
		}

		def.ID = id
		def.Version = latest + 1
		def.CreatedAt = createdAt
		return nil
	}
	return fmt.Errorf("failed to allocate definition version for org %s", def.OrgID)
}

// GetByID retrieves a definition by ID
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	row := sqlite.GetExecutor(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, org_id, name, version, graph, created_at
		FROM workflow_definitions
		WHERE id = ?
	`, id)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrDefinitionNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return def, nil
}

// GetLatestByOrg retrieves the highest version for an organization
func (r *DefinitionRepository) GetLatestByOrg(ctx context.Context, orgID string) (*entity.WorkflowDefinition, error) {
	row := sqlite.GetExecutor(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, org_id, name, version, graph, created_at
		FROM workflow_definitions
		WHERE org_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, orgID)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no definition for org %s", workflow.ErrDefinitionNotFound, orgID)
	}
	if err != nil {
		r.logger.Error("Failed to get latest definition", zap.String("org_id", orgID), zap.Error(err))
		return nil, err
	}
	return def, nil
}

func scanDefinition(row *sql.Row) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	var data string
	if err := row.Scan(&def.ID, &def.OrgID, &def.Name, &def.Version, &data, &def.CreatedAt); err != nil {
		return nil, err
	}

	var g graph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("failed to decode definition graph: %w", err)
	}
	def.Nodes = g.Nodes
	def.Edges = g.Edges
	return &def, nil
}
