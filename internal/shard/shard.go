// Package shard provides shard key generation for the DynamoDB association table.
package shard

import (
	"fmt"
	"hash/fnv"
)

// AssociationPK computes the sharded partition key for an association record.
// With numShards=1, all records of an owner go to shard "00".
// With numShards>1, records are distributed across shards based on the association id hash.
func AssociationPK(ownerRef, associationID string, numShards int) string {
	if numShards <= 1 {
		return ForShard(ownerRef, 0)
	}
	h := fnv.New32a()
	h.Write([]byte(associationID))
	return ForShard(ownerRef, int(h.Sum32()%uint32(numShards)))
}

// ForShard returns the partition key of one shard of an owner.
func ForShard(ownerRef string, shardNum int) string {
	return fmt.Sprintf("%s#%02x", ownerRef, shardNum)
}

// OwnerRef identifies an owning entity across tables.
func OwnerRef(table, id string) string {
	return table + "#" + id
}
