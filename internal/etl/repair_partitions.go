package etl

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type RepairResponse struct {
	Ok        bool   `json:"ok"`
	QueryID   string `json:"query_id,omitempty"`
	State     string `json:"state,omitempty"`
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Workgroup string `json:"workgroup,omitempty"`
	Output    string `json:"output,omitempty"`
}

// HandleRepairPartitions runs MSCK REPAIR TABLE on the usage-metrics table
// so new dt= partitions written by the ETL become queryable.
//
// Env: ATHENA_DATABASE, USAGE_METRICS_TABLE, ATHENA_OUTPUT (required),
// ATHENA_WORKGROUP (default "primary").
func HandleRepairPartitions(ctx context.Context) (RepairResponse, error) {
	db := strings.TrimSpace(os.Getenv("ATHENA_DATABASE"))
	table := strings.TrimSpace(os.Getenv("USAGE_METRICS_TABLE"))
	workgroup := strings.TrimSpace(os.Getenv("ATHENA_WORKGROUP"))
	output := strings.TrimSpace(os.Getenv("ATHENA_OUTPUT")) // s3://bucket/prefix/

	if db == "" || table == "" || output == "" {
		return RepairResponse{Ok: false}, fmt.Errorf("missing env: ATHENA_DATABASE, USAGE_METRICS_TABLE, ATHENA_OUTPUT are required")
	}
	if !strings.HasPrefix(output, "s3://") {
		return RepairResponse{Ok: false}, fmt.Errorf("ATHENA_OUTPUT must start with s3://")
	}
	if workgroup == "" {
		workgroup = "primary"
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return RepairResponse{Ok: false}, err
	}
	ath := athena.NewFromConfig(cfg)

	q := fmt.Sprintf("MSCK REPAIR TABLE %s;", table)

	startOut, err := ath.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(q),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(db),
		},
		WorkGroup: aws.String(workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(output),
		},
	})
	if err != nil {
		return RepairResponse{Ok: false}, fmt.Errorf("StartQueryExecution: %w", err)
	}

	qid := aws.ToString(startOut.QueryExecutionId)
	fmt.Printf("repair started: qid=%s db=%s table=%s wg=%s out=%s\n", qid, db, table, workgroup, output)

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		st, err := ath.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return RepairResponse{Ok: false, QueryID: qid}, fmt.Errorf("GetQueryExecution: %w", err)
		}
		state := string(st.QueryExecution.Status.State)
		if state == "SUCCEEDED" {
			fmt.Printf("repair succeeded: qid=%s\n", qid)
			return RepairResponse{
				Ok:        true,
				QueryID:   qid,
				State:     state,
				Database:  db,
				Table:     table,
				Workgroup: workgroup,
				Output:    output,
			}, nil
		}
		if state == "FAILED" || state == "CANCELLED" {
			reason := ""
			if st.QueryExecution.Status.StateChangeReason != nil {
				reason = *st.QueryExecution.Status.StateChangeReason
			}
			return RepairResponse{Ok: false, QueryID: qid, State: state}, fmt.Errorf("repair %s: %s", state, reason)
		}
		time.Sleep(2 * time.Second)
	}

	return RepairResponse{Ok: false, QueryID: qid, State: "TIMEOUT"}, fmt.Errorf("repair timed out waiting for qid=%s", qid)
}
