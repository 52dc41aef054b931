package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type CacheClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type CacheKey struct {
	Question   string
	Index      string
	EmbedModel string
	GenModel   string
	TopK       int
}

type CachedAnswer struct {
	Answer       string `json:"answer"`
	PassageCount int    `json:"passage_count"`
}

// CacheTable returns the answer cache table name; the cache is disabled
// when ANSWER_CACHE_TABLE is unset.
func CacheTable() string {
	return strings.TrimSpace(os.Getenv("ANSWER_CACHE_TABLE"))
}

func cacheTTLSeconds() int64 {
	v := strings.TrimSpace(os.Getenv("ANSWER_CACHE_TTL_SECONDS"))
	if v == "" {
		return 3600
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 3600
	}
	return n
}

func NormalizeQuestion(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	// collapse whitespace
	q = strings.Join(strings.Fields(q), " ")
	return q
}

func HashKeyMaterial(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func MakeCachePK(index string) string {
	return "IDX#" + index
}

func MakeCacheSK(k CacheKey) string {
	material := strings.Join([]string{
		"embed=" + k.EmbedModel,
		"gen=" + k.GenModel,
		"topk=" + strconv.Itoa(k.TopK),
		"q=" + NormalizeQuestion(k.Question),
	}, "|")
	return "QA#" + HashKeyMaterial(material)
}

func GetCachedAnswer(ctx context.Context, ddb CacheClient, key CacheKey) (*CachedAnswer, bool, error) {
	table := CacheTable()
	if table == "" {
		return nil, false, nil
	}

	out, err := ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: MakeCachePK(key.Index)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: MakeCacheSK(key)},
		},
		ConsistentRead: aws.Bool(false),
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache GetItem: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	payloadAttr, ok := out.Item["Payload"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return nil, false, nil
	}
	var resp CachedAnswer
	if err := json.Unmarshal([]byte(payloadAttr.Value), &resp); err != nil {
		return nil, false, nil
	}
	return &resp, true, nil
}

func PutCachedAnswer(ctx context.Context, ddb CacheClient, key CacheKey, resp CachedAnswer) error {
	table := CacheTable()
	if table == "" {
		return nil
	}

	b, _ := json.Marshal(resp)

	now := time.Now().UTC().Unix()
	exp := now + cacheTTLSeconds()

	_, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item: map[string]ddbtypes.AttributeValue{
			"PK":        &ddbtypes.AttributeValueMemberS{Value: MakeCachePK(key.Index)},
			"SK":        &ddbtypes.AttributeValueMemberS{Value: MakeCacheSK(key)},
			"ExpiresAt": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", exp)},
			"Payload":   &ddbtypes.AttributeValueMemberS{Value: string(b)},
			"CreatedAt": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
		},
	})
	if err != nil {
		return fmt.Errorf("cache PutItem: %w", err)
	}
	return nil
}
