package dialect

import (
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

// AssociationStorageStrategy is where an association's rows are stored.
type AssociationStorageStrategy int

const (
	StrategyUnset AssociationStorageStrategy = iota
	// StrategyInEntity stores rows inside the owner's document.
	StrategyInEntity
	// StrategyGlobalCollection stores rows in one shared collection.
	StrategyGlobalCollection
	// StrategyCollectionPerAssociation stores rows in a collection per
	// association table.
	StrategyCollectionPerAssociation
)

func (s AssociationStorageStrategy) String() string {
	switch s {
	case StrategyInEntity:
		return "IN_ENTITY"
	case StrategyGlobalCollection:
		return "GLOBAL_COLLECTION"
	case StrategyCollectionPerAssociation:
		return "COLLECTION_PER_ASSOCIATION"
	default:
		return "UNSET"
	}
}

// ResolveAssociationStorage picks the storage strategy of an association.
// Embedded collections, one-to-one associations and associations
// configured IN_ENTITY live in the owner's document. Other associations
// get a collection of their own when configured so, else the global one.
func ResolveAssociationStorage(meta model.AssociationKeyMetadata, opts options.Values) AssociationStorageStrategy {
	if meta.Kind == model.KindEmbeddedCollection || meta.IsOneToOne() || opts.AssociationStorage == options.InEntity {
		return StrategyInEntity
	}
	if opts.AssociationDocumentStorage == options.CollectionPerAssociation {
		return StrategyCollectionPerAssociation
	}
	return StrategyGlobalCollection
}
