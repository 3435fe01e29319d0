package dynamo

// Config holds configuration for the DynamoDB dialect.
type Config struct {
	// TablePrefix is prepended to every entity table name.
	// Default: "" (entity tables are named after the mapped table)
	TablePrefix string

	// AssociationTable is the name of the table holding association documents
	// when they are stored in the global collection.
	// Default: "lattice_associations"
	AssociationTable string

	// AssociationTablePrefix is prepended to the association table name when
	// each association gets its own table.
	// Default: "lattice_assoc_"
	AssociationTablePrefix string

	// SequenceTable is the name of the table holding NextValue counters.
	// Default: "lattice_sequences"
	SequenceTable string

	// IDAttribute is the hash key attribute of entity tables.
	// Default: "_id"
	IDAttribute string

	// VersionAttribute holds the revision used for optimistic locking.
	// Default: "_version"
	VersionAttribute string

	// NumShards is the number of shards per owner in association tables.
	// Higher values increase write throughput for owners with many
	// associations but require more parallel queries when they are listed.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int

	// MaxTransactItems caps the number of writes sent in one
	// TransactWriteItems call by ExecuteBatch.
	// Default: 100 (the DynamoDB limit)
	MaxTransactItems int
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		AssociationTable:       "lattice_associations",
		AssociationTablePrefix: "lattice_assoc_",
		SequenceTable:          "lattice_sequences",
		IDAttribute:            "_id",
		VersionAttribute:       "_version",
		NumShards:              1,
		MaxTransactItems:       100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.AssociationTable == "" {
		c.AssociationTable = d.AssociationTable
	}
	if c.AssociationTablePrefix == "" {
		c.AssociationTablePrefix = d.AssociationTablePrefix
	}
	if c.SequenceTable == "" {
		c.SequenceTable = d.SequenceTable
	}
	if c.IDAttribute == "" {
		c.IDAttribute = d.IDAttribute
	}
	if c.VersionAttribute == "" {
		c.VersionAttribute = d.VersionAttribute
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.MaxTransactItems < 1 || c.MaxTransactItems > 100 {
		c.MaxTransactItems = 100
	}
}
