package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

// definitions are stored serialized so callers never share graph slices
type definitionRow struct {
	orgID   string
	version int
	data    []byte
}

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	store *Store
}

// NewDefinitionRepository creates a definition repository over store
func NewDefinitionRepository(store *Store) *DefinitionRepository {
	return &DefinitionRepository{store: store}
}

// Save stores def as the next version for its organization
func (r *DefinitionRepository) Save(ctx context.Context, def *entity.WorkflowDefinition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	latest := 0
	for _, row := range r.store.definitions {
		if row.orgID == def.OrgID && row.version > latest {
			latest = row.version
		}
	}

	def.ID = uuid.NewString()
	def.Version = latest + 1
	def.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	id := def.ID
	r.store.definitions[id] = &definitionRow{orgID: def.OrgID, version: def.Version, data: data}
	recordUndo(ctx, func() { delete(r.store.definitions, id) })
	return nil
}

// GetByID returns a definition by id
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	r.store.mu.Lock()
	row, ok := r.store.definitions[id]
	r.store.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrDefinitionNotFound, id)
	}
	return decodeDefinition(row)
}

// GetLatestByOrg returns the highest version for the organization
func (r *DefinitionRepository) GetLatestByOrg(ctx context.Context, orgID string) (*entity.WorkflowDefinition, error) {
	r.store.mu.Lock()
	var best *definitionRow
	for _, row := range r.store.definitions {
		if row.orgID == orgID && (best == nil || row.version > best.version) {
			best = row
		}
	}
	r.store.mu.Unlock()

	if best == nil {
		return nil, fmt.Errorf("%w: no definition for org %s", workflow.ErrDefinitionNotFound, orgID)
	}
	return decodeDefinition(best)
}

func decodeDefinition(row *definitionRow) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	if err := json.Unmarshal(row.data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return &def, nil
}

var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
