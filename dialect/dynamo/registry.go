package dynamo

import "github.com/jacentio/lattice/dialect"

// OwnedAssociation declares that entities of OwnerTable own associations
// stored outside the entity item, so their records can be cleaned up when
// an owner is removed.
type OwnedAssociation struct {
	// OwnerTable is the logical entity table of the owner (e.g., "orders").
	OwnerTable string

	// AssociationTable is the logical association table (e.g., "order_lines").
	AssociationTable string

	// Strategy is where the association records live. In-entity
	// associations need no cleanup and are ignored.
	Strategy dialect.AssociationStorageStrategy
}

// Registry holds the associations stored in association tables.
type Registry struct {
	associations []OwnedAssociation
	byOwner      map[string][]OwnedAssociation
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		associations: []OwnedAssociation{},
		byOwner:      make(map[string][]OwnedAssociation),
	}
}

// Register adds an association to the registry.
// This should be called during init() for each association kept in an
// association table.
func (r *Registry) Register(a OwnedAssociation) {
	if a.Strategy == dialect.StrategyInEntity {
		return
	}
	r.associations = append(r.associations, a)
	r.byOwner[a.OwnerTable] = append(r.byOwner[a.OwnerTable], a)
}

// OwnedBy returns the associations owned by an entity table.
func (r *Registry) OwnedBy(ownerTable string) []OwnedAssociation {
	return r.byOwner[ownerTable]
}

// All returns all registered associations.
func (r *Registry) All() []OwnedAssociation {
	return r.associations
}

// HasAssociations returns true if the owner table has any registered
// associations.
func (r *Registry) HasAssociations(ownerTable string) bool {
	return len(r.byOwner[ownerTable]) > 0
}
