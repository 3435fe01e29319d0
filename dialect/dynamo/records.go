package dynamo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/internal/shard"
)

// AssociationRecord is one association item of an owner.
type AssociationRecord struct {
	PK               string
	SK               string
	OwnerRef         string
	AssociationTable string
	Role             string
}

// OwnerRef returns the owner reference of an entity id in a logical table.
func (d *Dialect) OwnerRef(table, id string) string {
	return shard.OwnerRef(table, id)
}

// AssociationTablesFor returns the DynamoDB tables that may hold
// association records of an owner table, according to the registry.
func (d *Dialect) AssociationTablesFor(ownerTable string) []string {
	if d.registry == nil {
		return nil
	}
	seen := make(map[string]bool)
	var tables []string
	for _, a := range d.registry.OwnedBy(ownerTable) {
		t := d.AssociationTable(a.Strategy, a.AssociationTable)
		if t != "" && !seen[t] {
			seen[t] = true
			tables = append(tables, t)
		}
	}
	sort.Strings(tables)
	return tables
}

// AssociationRecords returns every association record of an owner in one
// association table, querying all shards in parallel.
func (d *Dialect) AssociationRecords(ctx context.Context, table, ownerRef string) ([]AssociationRecord, error) {
	numShards := d.config.NumShards

	// Fast path for single shard (default)
	if numShards == 1 {
		return d.queryShard(ctx, table, shard.ForShard(ownerRef, 0))
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var all []AssociationRecord
	g, ctx := errgroup.WithContext(ctx)
	for shardNum := 0; shardNum < numShards; shardNum++ {
		shardPK := shard.ForShard(ownerRef, shardNum)
		g.Go(func() error {
			records, err := d.queryShard(ctx, table, shardPK)
			if err != nil {
				return fmt.Errorf("shard %02x: %w", shardNum, err)
			}
			mu.Lock()
			all = append(all, records...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].PK != all[j].PK {
			return all[i].PK < all[j].PK
		}
		return all[i].SK < all[j].SK
	})
	return all, nil
}

func (d *Dialect) queryShard(ctx context.Context, table, shardPK string) ([]AssociationRecord, error) {
	var records []AssociationRecord

	paginator := dynamodb.NewQueryPaginator(d.api, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": stringValue(shardPK),
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, item := range page.Items {
			records = append(records, unmarshalRecord(item))
		}
	}

	return records, nil
}

// DeleteAssociationRecord deletes one association record.
func (d *Dialect) DeleteAssociationRecord(ctx context.Context, table string, rec AssociationRecord) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			attrPK: stringValue(rec.PK),
			attrSK: stringValue(rec.SK),
		},
	})
	return classify(err)
}

// unmarshalRecord converts an association item to an AssociationRecord.
func unmarshalRecord(item map[string]types.AttributeValue) AssociationRecord {
	return AssociationRecord{
		PK:               stringAttr(item, attrPK),
		SK:               stringAttr(item, attrSK),
		OwnerRef:         stringAttr(item, attrOwnerRef),
		AssociationTable: stringAttr(item, attrAssociationTable),
		Role:             stringAttr(item, attrRole),
	}
}
