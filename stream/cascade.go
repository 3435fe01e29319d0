// Package stream provides DynamoDB Streams handlers that delete association
// records left behind when an owning entity is removed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/dialect/dynamo"
)

// Dialect is the part of *dynamo.Dialect used by the handler.
type Dialect interface {
	Config() dynamo.Config
	LogicalTable(physical string) (string, bool)
	OwnerRef(table, id string) string
	AssociationTablesFor(ownerTable string) []string
	AssociationRecords(ctx context.Context, table, ownerRef string) ([]dynamo.AssociationRecord, error)
	DeleteAssociationRecord(ctx context.Context, table string, rec dynamo.AssociationRecord) error
}

var _ Dialect = (*dynamo.Dialect)(nil)

// Handler processes DynamoDB stream events of entity tables.
type Handler struct {
	dialect Dialect
	logger  zerolog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(d Dialect, logger zerolog.Logger) *Handler {
	return &Handler{
		dialect: d,
		logger:  logger.With().Str("component", "stream").Logger(),
	}
}

// HandleRemove deletes the association records of every removed owner in
// the event. It is designed to be used as an AWS Lambda handler; a returned
// error makes Lambda retry the batch.
func (h *Handler) HandleRemove(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error().Err(err).Str("eventID", record.EventID).Msg("failed to process record")
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	physical := tableFromARN(record.EventSourceArn)
	table, ok := h.dialect.LogicalTable(physical)
	if !ok {
		h.logger.Debug().Str("table", physical).Msg("skipping record of unmapped table")
		return nil
	}

	idAttr := h.dialect.Config().IDAttribute
	id := getStringAttr(record.Change.Keys, idAttr)
	if id == "" {
		id = getStringAttr(record.Change.OldImage, idAttr)
	}
	if id == "" {
		h.logger.Warn().Str("table", table).Str("eventID", record.EventID).Msg("removed item has no id")
		return nil
	}

	tables := h.dialect.AssociationTablesFor(table)
	if len(tables) == 0 {
		return nil
	}

	ownerRef := h.dialect.OwnerRef(table, id)
	h.logger.Info().
		Str("owner", ownerRef).
		Int64("version", getNumberAttr(record.Change.OldImage, h.dialect.Config().VersionAttribute)).
		Strs("associationTables", tables).
		Msg("removing association records")

	var errs []error
	deleted := 0
	for _, t := range tables {
		records, err := h.dialect.AssociationRecords(ctx, t, ownerRef)
		if err != nil {
			return fmt.Errorf("query %s: %w", t, err)
		}
		for _, rec := range records {
			if err := h.dialect.DeleteAssociationRecord(ctx, t, rec); err != nil {
				h.logger.Warn().Err(err).Str("table", t).Str("pk", rec.PK).Str("sk", rec.SK).Msg("failed to delete association record")
				errs = append(errs, err)
				continue
			}
			deleted++
		}
	}

	h.logger.Info().Str("owner", ownerRef).Int("deleted", deleted).Msg("association records removed")
	if len(errs) > 0 {
		return fmt.Errorf("delete association records of %s: %w", ownerRef, errors.Join(errs...))
	}
	return nil
}

// tableFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/<name>/stream/<label>.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
