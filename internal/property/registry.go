package property

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
)

// Store is the persistence the registry needs.
type Store interface {
	GetPropertyByKey(ctx context.Context, stableKey string) (*model.ResearchProperty, error)
	UpsertProperty(ctx context.Context, p *model.ResearchProperty) (*model.ResearchProperty, error)
}

// Registry maps raw addresses to canonical properties.
type Registry struct {
	store Store
}

// NewRegistry creates a Registry backed by s.
func NewRegistry(s Store) *Registry {
	return &Registry{store: s}
}

// Resolve returns the property for raw, creating it on first sight.
// Errors wrapping ErrInvalidAddress mean the input itself is unusable.
func (r *Registry) Resolve(ctx context.Context, raw string) (*model.ResearchProperty, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	key := addr.StableKey()

	existing, err := r.store.GetPropertyByKey(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "property: lookup")
	}
	if existing != nil {
		return existing, nil
	}

	// Concurrent creators converge on the stable key's single row.
	p, err := r.store.UpsertProperty(ctx, &model.ResearchProperty{
		ID:                uuid.New().String(),
		StableKey:         key,
		RawAddress:        strings.TrimSpace(raw),
		NormalizedAddress: addr.String(),
		City:              addr.City,
		State:             addr.State,
		Zip:               addr.Zip,
	})
	if err != nil {
		return nil, eris.Wrap(err, "property: create")
	}

	zap.L().Info("property: registered",
		zap.String("property_id", p.ID),
		zap.String("address", p.NormalizedAddress),
	)
	return p, nil
}
