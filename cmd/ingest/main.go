package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"backend/internal/handlers"
	"backend/internal/params"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	ssmc := ssm.NewFromConfig(cfg)
	endpoint, err := params.MustResolve(ctx, ssmc, "OPENSEARCH_ENDPOINT")
	if err != nil {
		log.Fatalf("resolve opensearch endpoint: %v", err)
	}
	index, err := params.MustResolve(ctx, ssmc, "OPENSEARCH_INDEX")
	if err != nil {
		log.Fatalf("resolve opensearch index: %v", err)
	}

	h := handlers.NewIngestHandler(cfg, endpoint, index)
	lambda.Start(h.Handle)
}
