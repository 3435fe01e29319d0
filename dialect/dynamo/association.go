package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/document"
	"github.com/jacentio/lattice/internal/shard"
	"github.com/jacentio/lattice/model"
)

// Attributes of association table items.
const (
	attrPK               = "pk"
	attrSK               = "sk"
	attrOwnerRef         = "owner_ref"
	attrOwnerTable       = "owner_table"
	attrAssociationTable = "association_table"
	attrRole             = "role"
	attrRows             = "rows"
)

// maxEmbeddedRetries bounds the read-modify-write attempts on an owner item
// when an association is embedded below a nested role.
const maxEmbeddedRetries = 5

var errOwnerMissing = errors.New("owner entity does not exist")

// AssociationTable returns the DynamoDB table holding association records
// for a storage strategy. It is empty for in-entity storage.
func (d *Dialect) AssociationTable(strategy dialect.AssociationStorageStrategy, table string) string {
	switch strategy {
	case dialect.StrategyGlobalCollection:
		return d.config.AssociationTable
	case dialect.StrategyCollectionPerAssociation:
		return d.config.AssociationTablePrefix + table
	default:
		return ""
	}
}

// associationID identifies an association below its owner.
func associationID(key model.AssociationKey) string {
	return key.Table() + "#" + strings.Join(key.ColumnNames(), ",") + "#" + key.ID()
}

func ownerRef(key model.AssociationKey) string {
	owner := key.OwnerEntityKey()
	return shard.OwnerRef(owner.Table(), owner.ID())
}

func (d *Dialect) associationKey(key model.AssociationKey) map[string]types.AttributeValue {
	id := associationID(key)
	return map[string]types.AttributeValue{
		attrPK: stringValue(shard.AssociationPK(ownerRef(key), id, d.config.NumShards)),
		attrSK: stringValue(id),
	}
}

func (d *Dialect) associationItem(key model.AssociationKey, rows any) (map[string]types.AttributeValue, error) {
	av, err := toAttributeValue(rows)
	if err != nil {
		return nil, err
	}
	item := d.associationKey(key)
	item[attrOwnerRef] = stringValue(ownerRef(key))
	item[attrOwnerTable] = stringValue(key.OwnerEntityKey().Table())
	item[attrAssociationTable] = stringValue(key.Table())
	item[attrRows] = av
	if role := key.Metadata().CollectionRole; role != "" {
		item[attrRole] = stringValue(role)
	}
	return item, nil
}

// pathExpression turns a dotted path into a document path expression with
// one attribute name placeholder per segment.
func pathExpression(path string) (string, map[string]string) {
	segments := strings.Split(path, ".")
	names := make(map[string]string, len(segments))
	parts := make([]string, len(segments))
	for i, seg := range segments {
		p := fmt.Sprintf("#path%d", i)
		names[p] = seg
		parts[i] = p
	}
	return strings.Join(parts, "."), names
}

func (d *Dialect) GetAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) (*model.Association, error) {
	meta := key.Metadata()
	strategy := ac.Type.StorageStrategy(meta)

	var stored any
	if strategy == dialect.StrategyInEntity {
		projection, names := pathExpression(meta.CollectionRole)
		result, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:                aws.String(d.EntityTable(key.OwnerEntityKey().Table())),
			Key:                      d.itemKey(key.OwnerEntityKey()),
			ConsistentRead:           aws.Bool(true),
			ProjectionExpression:     aws.String(projection),
			ExpressionAttributeNames: names,
		})
		if err != nil {
			return nil, dialect.NewError(opGetAssociation, key, classify(err))
		}
		stored = document.GetValueOrNull(fromItem(result.Item), meta.CollectionRole)
	} else {
		result, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(d.AssociationTable(strategy, key.Table())),
			Key:            d.associationKey(key),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, dialect.NewError(opGetAssociation, key, classify(err))
		}
		if rows, ok := result.Item[attrRows]; ok {
			stored = fromAttributeValue(rows)
		}
	}

	if stored == nil {
		return nil, nil
	}
	return model.NewAssociationFromSnapshot(document.SnapshotFromDocument(key, stored)), nil
}

func (d *Dialect) CreateAssociation(key model.AssociationKey, ac dialect.AssociationContext) *model.Association {
	return model.NewAssociation()
}

func (d *Dialect) InsertOrUpdateAssociation(ctx context.Context, key model.AssociationKey, assoc *model.Association, ac dialect.AssociationContext) error {
	rows := document.AssociationRows(key, assoc, ac.Type.Options.MapStorage)
	if err := d.writeAssociation(ctx, key, ac, rows); err != nil {
		return dialect.NewError(opInsertOrUpdateAssociation, key, err)
	}
	assoc.Commit(document.AssociationFromRows(assoc.Rows()))
	return nil
}

func (d *Dialect) RemoveAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) error {
	return dialect.NewError(opRemoveAssociation, key, d.writeAssociation(ctx, key, ac, nil))
}

// writeAssociation stores rows, or removes the association when rows is nil.
func (d *Dialect) writeAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext, rows any) error {
	meta := key.Metadata()
	strategy := ac.Type.StorageStrategy(meta)
	if strategy == dialect.StrategyInEntity {
		return d.writeEmbedded(ctx, key.OwnerEntityKey(), meta.CollectionRole, rows)
	}

	table := d.AssociationTable(strategy, key.Table())
	if rows == nil {
		_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(table),
			Key:       d.associationKey(key),
		})
		return classify(err)
	}

	item, err := d.associationItem(key, rows)
	if err != nil {
		return err
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	return classify(err)
}

// embeddedUpdate sets or removes a top-level attribute of an existing owner
// item without touching its version.
func (d *Dialect) embeddedUpdate(owner model.EntityKey, attr string, value any) (*types.Update, error) {
	update := &types.Update{
		TableName:           aws.String(d.EntityTable(owner.Table())),
		Key:                 d.itemKey(owner),
		ConditionExpression: aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id":   d.config.IDAttribute,
			"#role": attr,
		},
	}
	if value == nil {
		update.UpdateExpression = aws.String("REMOVE #role")
		return update, nil
	}
	av, err := toAttributeValue(value)
	if err != nil {
		return nil, err
	}
	update.UpdateExpression = aws.String("SET #role = :rows")
	update.ExpressionAttributeValues = map[string]types.AttributeValue{":rows": av}
	return update, nil
}

// writeEmbedded stores value under role in the owner item. A nested role is
// written by replacing its top-level attribute, guarded by the owner version
// and by the attribute value it was read with.
func (d *Dialect) writeEmbedded(ctx context.Context, owner model.EntityKey, role string, value any) error {
	top, rest, nested := strings.Cut(role, ".")
	if !nested {
		update, err := d.embeddedUpdate(owner, role, value)
		if err != nil {
			return err
		}
		_, err = d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
		if isConditionFailed(err) {
			if value == nil {
				return nil
			}
			return fmt.Errorf("%w: %w", dialect.ErrOptimisticLock, errOwnerMissing)
		}
		return classify(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxEmbeddedRetries), ctx)
	return backoff.Retry(func() error {
		item, err := d.getItem(ctx, owner)
		if err != nil {
			return backoff.Permanent(err)
		}
		if item == nil {
			if value == nil {
				return nil
			}
			return backoff.Permanent(fmt.Errorf("%w: %w", dialect.ErrOptimisticLock, errOwnerMissing))
		}

		doc, version := d.fromEntityItem(item)
		sub, _ := doc[top].(map[string]any)
		if sub == nil {
			if value == nil {
				return nil
			}
			sub = make(map[string]any)
		}
		if value == nil {
			document.ResetValue(sub, rest)
		} else {
			document.SetValue(sub, rest, value)
		}

		av, err := toAttributeValue(sub)
		if err != nil {
			return backoff.Permanent(err)
		}
		names := map[string]string{
			"#top":     top,
			"#version": d.config.VersionAttribute,
		}
		values := map[string]types.AttributeValue{
			":top":     av,
			":version": numberValue(version),
		}
		condition := "#version = :version AND attribute_not_exists(#top)"
		if old, ok := item[top]; ok {
			values[":old"] = old
			condition = "#version = :version AND #top = :old"
		}
		_, err = d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(d.EntityTable(owner.Table())),
			Key:                       d.itemKey(owner),
			UpdateExpression:          aws.String("SET #top = :top"),
			ConditionExpression:       aws.String(condition),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		if isConditionFailed(err) {
			return fmt.Errorf("%w: owner changed while writing %s", dialect.ErrOptimisticLock, role)
		}
		if err != nil {
			return backoff.Permanent(classify(err))
		}
		return nil
	}, b)
}
