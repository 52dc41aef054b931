package etl

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

type GlueClient interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

type TableSchema struct {
	Database   string
	Table      string
	Location   string // s3://bucket/prefix/
	Columns    []Column
	Partitions []Column
}

type Column struct {
	Name string
	Type string
}

// LoadUsageTableFromEnv resolves the Glue catalog entry for the
// usage-metrics table. The table's storage location decides where parquet
// partitions are written.
func LoadUsageTableFromEnv(ctx context.Context, c GlueClient) (*TableSchema, error) {
	db := strings.TrimSpace(os.Getenv("GLUE_DATABASE"))
	tbl := strings.TrimSpace(os.Getenv("USAGE_METRICS_TABLE"))
	if db == "" || tbl == "" {
		return nil, fmt.Errorf("missing env vars: GLUE_DATABASE and/or USAGE_METRICS_TABLE")
	}
	return LoadTableSchema(ctx, c, db, tbl)
}

func LoadTableSchema(ctx context.Context, c GlueClient, database, table string) (*TableSchema, error) {
	out, err := c.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return nil, fmt.Errorf("glue GetTable %s.%s: %w", database, table, err)
	}

	ti := out.Table
	sd := ti.StorageDescriptor

	schema := &TableSchema{
		Database: database,
		Table:    aws.ToString(ti.Name),
	}
	if sd != nil {
		schema.Location = aws.ToString(sd.Location)
		cols := make([]Column, 0, len(sd.Columns))
		for _, col := range sd.Columns {
			cols = append(cols, Column{
				Name: aws.ToString(col.Name),
				Type: aws.ToString(col.Type),
			})
		}
		schema.Columns = cols
	}

	parts := make([]Column, 0, len(ti.PartitionKeys))
	for _, p := range ti.PartitionKeys {
		parts = append(parts, Column{
			Name: aws.ToString(p.Name),
			Type: aws.ToString(p.Type),
		})
	}
	schema.Partitions = parts

	return schema, nil
}

// ParseS3Location splits s3://bucket/prefix/ into bucket and prefix.
func ParseS3Location(location string) (bucket, prefix string, err error) {
	location = strings.TrimSpace(location)
	if !strings.HasPrefix(location, "s3://") {
		return "", "", fmt.Errorf("not an s3 location: %q", location)
	}
	rest := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in location %q", location)
	}
	if len(parts) == 2 {
		prefix = parts[1]
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}
