package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"backend/internal/rag"
)

// UsageMetricsRow matches the Glue table columns; dt is the partition key
// and lives in the object path, not in the file.
type UsageMetricsRow struct {
	MetricDate   string  `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	QueryCount   int64   `parquet:"name=query_count, type=INT64"`
	CacheHits    int64   `parquet:"name=cache_hits, type=INT64"`
	AvgLatencyMs float64 `parquet:"name=avg_latency_ms, type=DOUBLE"`
	AvgPassages  float64 `parquet:"name=avg_passages, type=DOUBLE"`
}

type UsageMetricsETL struct {
	ddb  *dynamodb.Client
	s3   *s3.Client
	glue *glue.Client
}

func NewUsageMetricsETL(cfg aws.Config) *UsageMetricsETL {
	return &UsageMetricsETL{
		ddb:  dynamodb.NewFromConfig(cfg),
		s3:   s3.NewFromConfig(cfg),
		glue: glue.NewFromConfig(cfg),
	}
}

// Handle is triggered by EventBridge schedule.
//
// Behavior:
// - Resolve the usage-metrics Glue table; its storage location decides the
//   target bucket/prefix
// - For each day in the backfill window, aggregate the query log
// - Write one Parquet row per day under:
//     <prefix>dt=YYYY-MM-DD/part-<rand>.parquet
//
// Env:
// - QUERY_LOG_TABLE (required)
// - GLUE_DATABASE, USAGE_METRICS_TABLE (required)
// - ETL_DAYS_BACK (default "1") // number of days including today
func (h *UsageMetricsETL) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	logTable := strings.TrimSpace(os.Getenv("QUERY_LOG_TABLE"))
	if logTable == "" {
		return nil, fmt.Errorf("missing env QUERY_LOG_TABLE")
	}

	daysBack := 1
	if v := strings.TrimSpace(os.Getenv("ETL_DAYS_BACK")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			daysBack = n
		}
	}

	schema, err := LoadUsageTableFromEnv(ctx, h.glue)
	if err != nil {
		return nil, err
	}
	bucket, prefix, err := ParseS3Location(schema.Location)
	if err != nil {
		return nil, fmt.Errorf("usage-metrics table location: %w", err)
	}

	now := time.Now().UTC()
	written := 0
	totalQueries := 0

	for i := 0; i < daysBack; i++ {
		dtStr := now.AddDate(0, 0, -i).Format("2006-01-02")

		entries, err := rag.QueryLogForDay(ctx, h.ddb, logTable, dtStr)
		if err != nil {
			return nil, fmt.Errorf("load query log dt=%s: %w", dtStr, err)
		}
		if len(entries) == 0 {
			continue
		}

		row := aggregateDay(dtStr, entries)

		key := fmt.Sprintf("%sdt=%s/part-%s.parquet", prefix, dtStr, randHex(8))
		if err := h.writeOneParquetRowToS3(ctx, bucket, key, row); err != nil {
			return nil, fmt.Errorf("write parquet dt=%s: %w", dtStr, err)
		}

		written++
		totalQueries += len(entries)
	}

	return map[string]any{
		"ok":        true,
		"days_back": daysBack,
		"written":   written,
		"queries":   totalQueries,
		"bucket":    bucket,
		"prefix":    prefix,
	}, nil
}

func aggregateDay(dtStr string, entries []rag.QueryLogEntry) UsageMetricsRow {
	row := UsageMetricsRow{
		MetricDate: dtStr,
		QueryCount: int64(len(entries)),
	}

	var latencySum, passageSum float64
	for _, e := range entries {
		if e.CacheHit {
			row.CacheHits++
		}
		latencySum += float64(e.LatencyMs)
		passageSum += float64(e.PassageCount)
	}
	row.AvgLatencyMs = latencySum / float64(len(entries))
	row.AvgPassages = passageSum / float64(len(entries))
	return row
}

func (h *UsageMetricsETL) writeOneParquetRowToS3(ctx context.Context, bucket, key string, row UsageMetricsRow) error {
	localPath := filepath.Join(os.TempDir(), "usage_metrics_"+randHex(8)+".parquet")

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(UsageMetricsRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // no snappy

	if err := pw.Write(row); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return fmt.Errorf("parquet write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}
	defer func() { _ = os.Remove(localPath) }()

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject failed: %w", err)
	}
	return nil
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
