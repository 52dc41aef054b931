package rag

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// QueryLogEntry is one answered question, recorded for the usage-metrics
// ETL. The question itself is stored only as a hash.
type QueryLogEntry struct {
	Date         string `dynamodbav:"Date"` // YYYY-MM-DD (UTC)
	QuestionHash string `dynamodbav:"QuestionHash"`
	LatencyMs    int64  `dynamodbav:"LatencyMs"`
	PassageCount int    `dynamodbav:"PassageCount"`
	CacheHit     bool   `dynamodbav:"CacheHit"`
}

func QueryLogTable() string {
	return strings.TrimSpace(os.Getenv("QUERY_LOG_TABLE"))
}

func queryLogPK(date string) string {
	return "DT#" + date
}

// PutQueryLog writes one entry; it is a no-op when QUERY_LOG_TABLE is unset.
func PutQueryLog(ctx context.Context, ddb CacheClient, e QueryLogEntry) error {
	table := QueryLogTable()
	if table == "" {
		return nil
	}
	if e.Date == "" {
		e.Date = time.Now().UTC().Format("2006-01-02")
	}

	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal query log entry: %w", err)
	}

	// Random suffix so repeated questions on the same day stay distinct.
	var suffix [8]byte
	_, _ = rand.Read(suffix[:])
	item["PK"] = &ddbtypes.AttributeValueMemberS{Value: queryLogPK(e.Date)}
	item["SK"] = &ddbtypes.AttributeValueMemberS{Value: "Q#" + e.QuestionHash + "#" + hex.EncodeToString(suffix[:])}

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("query log PutItem: %w", err)
	}
	return nil
}

// QueryLogClient is the read side used by the ETL.
type QueryLogClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// QueryLogForDay returns all entries recorded on the given UTC date.
func QueryLogForDay(ctx context.Context, ddb QueryLogClient, table, date string) ([]QueryLogEntry, error) {
	entries := make([]QueryLogEntry, 0, 64)

	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: queryLogPK(date)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query log Query dt=%s: %w", date, err)
		}

		for _, item := range out.Items {
			var e QueryLogEntry
			if err := attributevalue.UnmarshalMap(item, &e); err != nil {
				continue
			}
			entries = append(entries, e)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return entries, nil
}
