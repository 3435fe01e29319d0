// Package model defines the data model shared by every grid dialect: the
// keys addressing entities, associations and association rows, and the
// change-tracked Tuple and Association containers.
//
// Keys are immutable values. Two keys are equal when their metadata and
// values are structurally equal; Hash returns a canonical string for use as
// a Go map key.
//
// Tuples and associations belong to a single unit of work. They are not safe
// for concurrent use, and dialects copy whatever they retain from them.
//
// Example:
//
//	meta := model.NewEntityKeyMetadata("orders", "id")
//	key := model.NewEntityKey(meta, int64(42))
//
//	tuple := model.NewTuple()
//	tuple.Put("id", int64(42))
//	tuple.Put("shipping.city", "Lyon")
//	tuple.Put("note", nil) // recorded as PUT_NULL
package model
