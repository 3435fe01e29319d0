package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SchemaAPI is the subset of the DynamoDB client used to provision tables.
type SchemaAPI interface {
	dynamodb.DescribeTableAPIClient
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

// Schema lists the logical tables to provision.
type Schema struct {
	// EntityTables are mapped entity tables.
	EntityTables []string
	// PerAssociationTables are association tables stored in their own
	// DynamoDB table.
	PerAssociationTables []string
	// StreamEntities enables NEW_AND_OLD_IMAGES streams on entity tables,
	// needed by the association cleanup handler.
	StreamEntities bool
}

// Tables returns the DynamoDB table names of a schema, including the global
// association table and the sequence table.
func (s Schema) Tables(cfg Config) []string {
	cfg.validate()
	tables := make([]string, 0, len(s.EntityTables)+len(s.PerAssociationTables)+2)
	for _, t := range s.EntityTables {
		tables = append(tables, cfg.TablePrefix+t)
	}
	for _, t := range s.PerAssociationTables {
		tables = append(tables, cfg.AssociationTablePrefix+t)
	}
	return append(tables, cfg.AssociationTable, cfg.SequenceTable)
}

// CreateTables creates every table of the schema that does not exist yet
// and waits until all of them are active.
func CreateTables(ctx context.Context, client SchemaAPI, cfg Config, schema Schema) error {
	cfg.validate()

	hashOnly := func(name string, stream bool) *dynamodb.CreateTableInput {
		input := &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(cfg.IDAttribute), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(cfg.IDAttribute), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		}
		if stream {
			input.StreamSpecification = &types.StreamSpecification{
				StreamEnabled:  aws.Bool(true),
				StreamViewType: types.StreamViewTypeNewAndOldImages,
			}
		}
		return input
	}
	associations := func(name string) *dynamodb.CreateTableInput {
		return &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		}
	}

	var inputs []*dynamodb.CreateTableInput
	for _, t := range schema.EntityTables {
		inputs = append(inputs, hashOnly(cfg.TablePrefix+t, schema.StreamEntities))
	}
	for _, t := range schema.PerAssociationTables {
		inputs = append(inputs, associations(cfg.AssociationTablePrefix+t))
	}
	inputs = append(inputs, associations(cfg.AssociationTable), hashOnly(cfg.SequenceTable, false))

	for _, input := range inputs {
		_, err := client.CreateTable(ctx, input)
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", aws.ToString(input.TableName), err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	for _, input := range inputs {
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: input.TableName,
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", aws.ToString(input.TableName), err)
		}
	}
	return nil
}

// DeleteTables deletes every table of the schema. Missing tables are skipped.
func DeleteTables(ctx context.Context, client SchemaAPI, cfg Config, schema Schema) error {
	var errs []error
	for _, name := range schema.Tables(cfg) {
		_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(name),
		})
		var missing *types.ResourceNotFoundException
		if err != nil && !errors.As(err, &missing) {
			errs = append(errs, fmt.Errorf("delete table %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
