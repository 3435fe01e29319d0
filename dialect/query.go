package dialect

import "github.com/jacentio/lattice/model"

// BackendQuery is a query in the backend's own language.
type BackendQuery struct {
	// Query is the dialect-specific query, as returned by ParseNativeQuery
	// or built by a query translator.
	Query any
	// EntityMetadata describes the entity the results map to, if any.
	EntityMetadata *model.EntityKeyMetadata
}

// QueryParameters binds values into a backend query.
type QueryParameters struct {
	Named      map[string]any
	Positional []any
	FirstRow   int
	MaxRows    int
}
