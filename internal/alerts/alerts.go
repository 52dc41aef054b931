package alerts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func topicArn() string {
	return strings.TrimSpace(os.Getenv("OPS_ALERTS_TOPIC_ARN"))
}

// PublishIngestFailure notifies the ops topic that an uploaded object could
// not be ingested. No-op when OPS_ALERTS_TOPIC_ARN is unset.
func PublishIngestFailure(ctx context.Context, c SNSClient, bucket, key string, cause error) error {
	arn := topicArn()
	if arn == "" {
		return nil
	}

	msg := fmt.Sprintf("Ingestion failed for s3://%s/%s\n\nError: %v", bucket, key, cause)
	_, err := c.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(arn),
		Subject:  aws.String("study-material ingest failure"),
		Message:  aws.String(msg),
	})
	if err != nil {
		return fmt.Errorf("sns Publish: %w", err)
	}
	return nil
}
