package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/dialect"
)

const defaultValueColumn = "next_val"

// NextValue atomically increments a counter item in Config.SequenceTable
// and returns the value it had before the increment. A missing counter
// starts at the initial value.
func (d *Dialect) NextValue(ctx context.Context, req dialect.NextValueRequest) (int64, error) {
	inc := req.Increment
	if inc == 0 {
		inc = 1
	}
	valueColumn := req.Key.ValueColumn
	if valueColumn == "" {
		valueColumn = defaultValueColumn
	}

	result, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.config.SequenceTable),
		Key: map[string]types.AttributeValue{
			d.config.IDAttribute: stringValue(req.Key.Table + "#" + req.Key.Segment),
		},
		UpdateExpression: aws.String("SET #value = if_not_exists(#value, :initial) + :inc"),
		ExpressionAttributeNames: map[string]string{
			"#value": valueColumn,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":initial": numberValue(req.InitialValue),
			":inc":     numberValue(inc),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, dialect.NewError("next value", req.Key, classify(err))
	}

	if _, ok := result.Attributes[valueColumn].(*types.AttributeValueMemberN); !ok {
		return 0, dialect.NewError("next value", req.Key, fmt.Errorf("dynamo: counter %q missing from response", valueColumn))
	}
	return numberAttr(result.Attributes, valueColumn) - inc, nil
}
