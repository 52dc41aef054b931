package main

import (
	"github.com/aws/aws-lambda-go/lambda"

	"backend/internal/etl"
)

func main() {
	lambda.Start(etl.HandleRepairPartitions)
}
