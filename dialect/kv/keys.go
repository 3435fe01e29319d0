package kv

import (
	"encoding/base64"
	"strings"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/model"
)

// Key namespaces. Segments are base64url encoded so that separators never
// appear inside them.
const (
	nsEntity         = "e"
	nsAssociation    = "a"
	nsPerAssociation = "p"
	nsCounter        = "c"
)

func segment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func join(parts ...string) string {
	return strings.Join(parts, ".")
}

// EntityPrefix is the prefix of every entity key of a table.
func EntityPrefix(table string) string {
	return join(nsEntity, segment(table)) + "."
}

// EntityKey returns the store key of an entity.
func EntityKey(key model.EntityKey) string {
	return EntityPrefix(key.Table()) + segment(key.ID())
}

// AssociationKey returns the store key of an association document.
func AssociationKey(key model.AssociationKey, strategy dialect.AssociationStorageStrategy) string {
	ns := nsAssociation
	if strategy == dialect.StrategyCollectionPerAssociation {
		ns = nsPerAssociation
	}
	return join(ns, segment(key.Table()), segment(key.ID()))
}

// CounterKey returns the store key of a NextValue counter.
func CounterKey(key model.IdSourceKey) string {
	return join(nsCounter, segment(key.Table), segment(key.Segment))
}
