package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"backend/internal/alerts"
	"backend/internal/chunker"
	"backend/internal/extract"
	"backend/internal/rag"
	"backend/internal/search"
)

type S3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Indexer interface {
	IndexDocument(ctx context.Context, id string, doc any) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// bedrockEmbedder adapts the Bedrock client to the Embedder interface.
type bedrockEmbedder struct {
	c rag.BedrockClient
}

func (e bedrockEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return rag.EmbedText(ctx, e.c, text)
}

// IndexedChunk is the document shape stored in the search index.
type IndexedChunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp string    `json:"timestamp"`
	Embedding []float64 `json:"embedding"`
}

// IngestHandler processes uploaded study material: extract text, chunk,
// embed each chunk, and index it for retrieval.
type IngestHandler struct {
	s3c      S3Getter
	embedder Embedder
	indexer  Indexer
	snsc     alerts.SNSClient

	chunkTokens int
}

func NewIngestHandler(cfg aws.Config, endpoint, index string) *IngestHandler {
	return &IngestHandler{
		s3c:         s3.NewFromConfig(cfg),
		embedder:    bedrockEmbedder{c: bedrockruntime.NewFromConfig(cfg)},
		indexer:     search.NewClient(cfg, endpoint, index),
		snsc:        sns.NewFromConfig(cfg),
		chunkTokens: envInt("INGEST_CHUNK_TOKENS", chunker.DefaultChunkTokens),
	}
}

func (h *IngestHandler) Handle(ctx context.Context, event events.S3Event) error {
	var errs []error
	for _, rec := range event.Records {
		bucket := rec.S3.Bucket.Name
		key := rec.S3.Object.Key
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}

		if err := h.processObject(ctx, bucket, key); err != nil {
			fmt.Printf("ingest: s3://%s/%s failed: %v\n", bucket, key, err)
			if h.snsc != nil {
				if aerr := alerts.PublishIngestFailure(ctx, h.snsc, bucket, key, err); aerr != nil {
					fmt.Printf("ingest: alert publish failed: %v\n", aerr)
				}
			}
			errs = append(errs, fmt.Errorf("s3://%s/%s: %w", bucket, key, err))
		}
	}
	return errors.Join(errs...)
}

func (h *IngestHandler) processObject(ctx context.Context, bucket, key string) error {
	obj, err := h.s3c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 GetObject: %w", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("read object body: %w", err)
	}

	text, err := extract.Text(key, data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) {
			fmt.Printf("ingest: skipping unsupported file s3://%s/%s\n", bucket, key)
			return nil
		}
		return fmt.Errorf("extract text: %w", err)
	}

	chunks := chunker.Chunk(text, h.chunkTokens)
	if len(chunks) == 0 {
		fmt.Printf("ingest: no text in s3://%s/%s\n", bucket, key)
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for idx, chunk := range chunks {
		embedding, err := h.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", idx, err)
		}

		doc := IndexedChunk{
			ID:        fmt.Sprintf("%s-%d", key, idx),
			Text:      chunk,
			Source:    key,
			Timestamp: now,
			Embedding: embedding,
		}
		if err := h.indexer.IndexDocument(ctx, doc.ID, doc); err != nil {
			return fmt.Errorf("index chunk %d: %w", idx, err)
		}
	}

	fmt.Printf("ingest: indexed %d chunks from s3://%s/%s\n", len(chunks), bucket, key)
	return nil
}
