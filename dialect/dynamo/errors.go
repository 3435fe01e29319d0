package dynamo

import (
	"context"
	"errors"
	"net"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/lattice/dialect"
)

const (
	reasonConditionalCheckFailed = "ConditionalCheckFailed"
	reasonTransactionConflict    = "TransactionConflict"
)

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// classify maps DynamoDB client errors onto the dialect taxonomy.
// Throttling, server faults and transport failures become connection
// errors; client faults are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		missing    *types.ResourceNotFoundException
	)
	switch {
	case errors.As(err, &throughput), errors.As(err, &limit), errors.As(err, &internal):
		return dialect.Connection(err)
	case errors.As(err, &missing):
		return errors.Join(dialect.ErrInvalidConfiguration, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return dialect.Connection(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return dialect.Connection(err)
	}
	return err
}

// cancellationIndex returns the index of the first transaction item that was
// cancelled with the given reason code, or -1.
func cancellationIndex(err error, code string) int {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return -1
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code != nil && *reason.Code == code {
			return i
		}
	}
	return -1
}
