// Package options holds the mapping options that steer how dialects store
// associations, with global, per-entity and per-property scopes.
package options

import (
	"fmt"
	"strings"
)

// AssociationStorageType selects where association rows live.
type AssociationStorageType int

const (
	AssociationStorageUnset AssociationStorageType = iota
	// InEntity stores the rows inside the owning entity's document.
	InEntity
	// AssociationDocument stores the rows in a document of their own.
	AssociationDocument
)

func (t AssociationStorageType) String() string {
	switch t {
	case InEntity:
		return "IN_ENTITY"
	case AssociationDocument:
		return "ASSOCIATION_DOCUMENT"
	default:
		return "UNSET"
	}
}

// AssociationDocumentStorageType selects the collection of association
// documents.
type AssociationDocumentStorageType int

const (
	AssociationDocumentStorageUnset AssociationDocumentStorageType = iota
	// GlobalCollection puts every association document in one collection.
	GlobalCollection
	// CollectionPerAssociation gives each association its own collection.
	CollectionPerAssociation
)

func (t AssociationDocumentStorageType) String() string {
	switch t {
	case GlobalCollection:
		return "GLOBAL_COLLECTION"
	case CollectionPerAssociation:
		return "COLLECTION_PER_ASSOCIATION"
	default:
		return "UNSET"
	}
}

// MapStorageType selects how map-like associations are laid out.
type MapStorageType int

const (
	MapStorageUnset MapStorageType = iota
	// ByKey stores a map keyed by the row key index value.
	ByKey
	// AsList stores a list of rows.
	AsList
)

func (t MapStorageType) String() string {
	switch t {
	case ByKey:
		return "BY_KEY"
	case AsList:
		return "AS_LIST"
	default:
		return "UNSET"
	}
}

// ParseAssociationStorage parses IN_ENTITY or ASSOCIATION_DOCUMENT.
func ParseAssociationStorage(s string) (AssociationStorageType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return AssociationStorageUnset, nil
	case "IN_ENTITY":
		return InEntity, nil
	case "ASSOCIATION_DOCUMENT":
		return AssociationDocument, nil
	}
	return AssociationStorageUnset, fmt.Errorf("unknown association storage %q", s)
}

// ParseAssociationDocumentStorage parses GLOBAL_COLLECTION or
// COLLECTION_PER_ASSOCIATION.
func ParseAssociationDocumentStorage(s string) (AssociationDocumentStorageType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return AssociationDocumentStorageUnset, nil
	case "GLOBAL_COLLECTION":
		return GlobalCollection, nil
	case "COLLECTION_PER_ASSOCIATION":
		return CollectionPerAssociation, nil
	}
	return AssociationDocumentStorageUnset, fmt.Errorf("unknown association document storage %q", s)
}

// ParseMapStorage parses BY_KEY or AS_LIST.
func ParseMapStorage(s string) (MapStorageType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return MapStorageUnset, nil
	case "BY_KEY":
		return ByKey, nil
	case "AS_LIST":
		return AsList, nil
	}
	return MapStorageUnset, fmt.Errorf("unknown map storage %q", s)
}

// Values is a set of option values. Unset fields inherit from the
// enclosing scope.
type Values struct {
	AssociationStorage         AssociationStorageType
	AssociationDocumentStorage AssociationDocumentStorageType
	MapStorage                 MapStorageType
}

// Defaults are the values used when no scope sets an option.
var Defaults = Values{
	AssociationStorage:         InEntity,
	AssociationDocumentStorage: GlobalCollection,
	MapStorage:                 ByKey,
}

// Over returns v with unset fields taken from parent.
func (v Values) Over(parent Values) Values {
	if v.AssociationStorage == AssociationStorageUnset {
		v.AssociationStorage = parent.AssociationStorage
	}
	if v.AssociationDocumentStorage == AssociationDocumentStorageUnset {
		v.AssociationDocumentStorage = parent.AssociationDocumentStorage
	}
	if v.MapStorage == MapStorageUnset {
		v.MapStorage = parent.MapStorage
	}
	return v
}

// Container resolves option values across global, entity and property
// scopes. The zero value is ready to use.
type Container struct {
	Global     Values
	entities   map[string]Values
	properties map[propertyKey]Values
}

type propertyKey struct {
	entity   string
	property string
}

// SetEntity sets the options of an entity table.
func (c *Container) SetEntity(entity string, v Values) {
	if c.entities == nil {
		c.entities = make(map[string]Values)
	}
	c.entities[entity] = v
}

// SetProperty sets the options of one property, usually a collection role.
func (c *Container) SetProperty(entity, property string, v Values) {
	if c.properties == nil {
		c.properties = make(map[propertyKey]Values)
	}
	c.properties[propertyKey{entity, property}] = v
}

// Entity resolves the options of an entity table.
func (c *Container) Entity(entity string) Values {
	if c == nil {
		return Defaults
	}
	return c.entities[entity].Over(c.Global.Over(Defaults))
}

// Property resolves the options of a property: property scope first, then
// entity, global and defaults.
func (c *Container) Property(entity, property string) Values {
	if c == nil {
		return Defaults
	}
	return c.properties[propertyKey{entity, property}].Over(c.Entity(entity))
}

// All returns every explicitly set value, global scope first.
func (c *Container) All() []Values {
	if c == nil {
		return nil
	}
	out := []Values{c.Global}
	for _, v := range c.entities {
		out = append(out, v)
	}
	for _, v := range c.properties {
		out = append(out, v)
	}
	return out
}
