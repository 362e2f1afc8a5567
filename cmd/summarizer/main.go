// Command summarizer is the Lambda function that keeps the DynamoDB
// reservation summary table current from the reservations table stream.
//
// Environment: TABLE_PREFIX, ROOM_TABLES (comma separated) and
// SUMMARY_TABLE override the stream.DefaultConfig tables.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/innkeeper/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load aws config", "error", err)
		os.Exit(1)
	}

	cfg := stream.DefaultConfig()
	cfg.Logger = logger
	cfg.TablePrefix = os.Getenv("TABLE_PREFIX")
	if v := os.Getenv("ROOM_TABLES"); v != "" {
		cfg.RoomTables = strings.Split(v, ",")
	}
	if v := os.Getenv("SUMMARY_TABLE"); v != "" {
		cfg.SummaryTable = v
	}

	h := stream.NewHandler(dynamodb.NewFromConfig(awsCfg), cfg)
	lambda.Start(h.HandleReservationEvents)
}
