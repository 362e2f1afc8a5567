// Package stream provides DynamoDB Streams handlers that keep the
// reservation summary table in step with the reservations table.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names of the reservation, room and summary items.
const (
	attrRoomID            = "room_id"
	attrAmount            = "amount"
	attrID                = "id"
	attrNumber            = "number"
	attrRoomNumber        = "room_number"
	attrReservationsCount = "reservations_count"
	attrTotalAmount       = "total_amount"
)

// Client is the subset of *dynamodb.Client the handler uses.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Config holds configuration for a Handler.
type Config struct {
	// TablePrefix is prepended to every table name.
	// Default: ""
	TablePrefix string

	// RoomTables are searched in order for the room a reservation names.
	// Default: ["standard_rooms", "suites"]
	RoomTables []string

	// SummaryTable holds one item per room number.
	// Default: "vw_reservation_summary"
	SummaryTable string

	// Logger receives processing diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the table-per-concrete room layout.
func DefaultConfig() Config {
	return Config{
		RoomTables:   []string{"standard_rooms", "suites"},
		SummaryTable: "vw_reservation_summary",
		Logger:       slog.Default(),
	}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if len(c.RoomTables) == 0 {
		c.RoomTables = d.RoomTables
	}
	if c.SummaryTable == "" {
		c.SummaryTable = d.SummaryTable
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
}

// Handler processes reservation stream events into summary deltas.
type Handler struct {
	client Client
	config Config
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(client Client, config Config) *Handler {
	config.validate()
	return &Handler{
		client: client,
		config: config,
		logger: config.Logger,
	}
}

// HandleReservationEvents applies the records of a reservations table
// stream to the summary table. It is designed to be used as an AWS Lambda
// handler; a failed record fails the batch so it is retried.
func (h *Handler) HandleReservationEvents(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, &record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// delta is one change to a room's aggregate.
type delta struct {
	roomID int64
	count  int64
	amount int64
}

// deltas turns a record into the aggregate changes it implies. A modify
// that keeps room and amount implies none.
func deltas(record *events.DynamoDBEventRecord) []delta {
	old, cur := record.Change.OldImage, record.Change.NewImage
	remove := delta{roomID: getNumberAttr(old, attrRoomID), count: -1, amount: -getNumberAttr(old, attrAmount)}
	add := delta{roomID: getNumberAttr(cur, attrRoomID), count: 1, amount: getNumberAttr(cur, attrAmount)}

	switch record.EventName {
	case "INSERT":
		return []delta{add}
	case "REMOVE":
		return []delta{remove}
	case "MODIFY":
		if remove.roomID == add.roomID && remove.amount == -add.amount {
			return nil
		}
		if remove.roomID == add.roomID {
			return []delta{{roomID: add.roomID, amount: add.amount + remove.amount}}
		}
		return []delta{remove, add}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	id := getStringAttr(record.Change.NewImage, attrID)
	if id == "" {
		id = getStringAttr(record.Change.OldImage, attrID)
	}
	for _, d := range deltas(record) {
		number, err := h.roomNumber(ctx, d.roomID)
		if err != nil {
			return fmt.Errorf("room %d: %w", d.roomID, err)
		}
		if err := h.apply(ctx, number, d); err != nil {
			return fmt.Errorf("summary %s: %w", number, err)
		}
		h.logger.Debug("applied reservation delta",
			"eventID", record.EventID,
			"reservationID", id,
			"roomNumber", number,
			"count", d.count,
			"amount", d.amount,
		)
	}
	return nil
}

// roomNumber looks the room up in each room table.
func (h *Handler) roomNumber(ctx context.Context, roomID int64) (string, error) {
	key := map[string]types.AttributeValue{attrID: &types.AttributeValueMemberN{Value: strconv.FormatInt(roomID, 10)}}
	for _, table := range h.config.RoomTables {
		out, err := h.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:            aws.String(h.config.TablePrefix + table),
			Key:                  key,
			ProjectionExpression: aws.String("#number"),
			ExpressionAttributeNames: map[string]string{
				"#number": attrNumber,
			},
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return "", err
		}
		if s, ok := out.Item[attrNumber].(*types.AttributeValueMemberS); ok {
			return s.Value, nil
		}
	}
	return "", errors.New("room not found")
}

// apply adds d to the summary item and removes the item once no
// reservations remain.
func (h *Handler) apply(ctx context.Context, number string, d delta) error {
	table := aws.String(h.config.TablePrefix + h.config.SummaryTable)
	key := map[string]types.AttributeValue{attrRoomNumber: &types.AttributeValueMemberS{Value: number}}
	out, err := h.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        table,
		Key:              key,
		UpdateExpression: aws.String("ADD #count :count, #total :amount"),
		ExpressionAttributeNames: map[string]string{
			"#count": attrReservationsCount,
			"#total": attrTotalAmount,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":count":  &types.AttributeValueMemberN{Value: strconv.FormatInt(d.count, 10)},
			":amount": &types.AttributeValueMemberN{Value: strconv.FormatInt(d.amount, 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return err
	}
	if count(out.Attributes) > 0 {
		return nil
	}

	_, err = h.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 table,
		Key:                       key,
		ConditionExpression:       aws.String("#count <= :zero"),
		ExpressionAttributeNames:  map[string]string{"#count": attrReservationsCount},
		ExpressionAttributeValues: map[string]types.AttributeValue{":zero": &types.AttributeValueMemberN{Value: "0"}},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		// A concurrent insert raced the delete.
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("removed empty summary", "roomNumber", number)
	return nil
}

func count(attrs map[string]types.AttributeValue) int64 {
	if n, ok := attrs[attrReservationsCount].(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
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
