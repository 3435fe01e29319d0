package options_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/options"
)

func TestContainer_ScopesResolveInOrder(t *testing.T) {
	var c options.Container
	assert.Equal(t, options.Defaults, c.Property("orders", "items"))

	c.Global = options.Values{AssociationStorage: options.AssociationDocument}
	c.SetEntity("orders", options.Values{AssociationDocumentStorage: options.CollectionPerAssociation})
	c.SetProperty("orders", "items", options.Values{MapStorage: options.AsList})

	got := c.Property("orders", "items")
	assert.Equal(t, options.AssociationDocument, got.AssociationStorage)
	assert.Equal(t, options.CollectionPerAssociation, got.AssociationDocumentStorage)
	assert.Equal(t, options.AsList, got.MapStorage)

	other := c.Property("customers", "tags")
	assert.Equal(t, options.AssociationDocument, other.AssociationStorage)
	assert.Equal(t, options.GlobalCollection, other.AssociationDocumentStorage)
	assert.Equal(t, options.ByKey, other.MapStorage)
}

func TestNilContainerUsesDefaults(t *testing.T) {
	var c *options.Container
	assert.Equal(t, options.Defaults, c.Entity("x"))
	assert.Equal(t, options.Defaults, c.Property("x", "y"))
}

func TestParse(t *testing.T) {
	st, err := options.ParseAssociationStorage("in_entity")
	require.NoError(t, err)
	assert.Equal(t, options.InEntity, st)

	ds, err := options.ParseAssociationDocumentStorage("COLLECTION_PER_ASSOCIATION")
	require.NoError(t, err)
	assert.Equal(t, options.CollectionPerAssociation, ds)

	ms, err := options.ParseMapStorage("")
	require.NoError(t, err)
	assert.Equal(t, options.MapStorageUnset, ms)

	_, err = options.ParseMapStorage("sideways")
	assert.Error(t, err)
}
