package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"backend/internal/rag"
	"backend/internal/search"
)

// Error kinds surfaced to callers.
const (
	KindValidation = "ValidationError"
	KindRetrieval  = "RetrievalError"
	KindGeneration = "GenerationError"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]search.Passage, error)
}

type Generator interface {
	Generate(ctx context.Context, question string, passages []search.Passage) (string, error)
}

type AskHandler struct {
	retriever Retriever
	generator Generator
	ddb       rag.CacheClient // nil disables the answer cache and query log

	topK              int
	retrievalTimeout  time.Duration
	generationTimeout time.Duration

	embedModel string
	genModel   string
	index      string
}

func NewAskHandler(cfg aws.Config, endpoint, index string) *AskHandler {
	br := bedrockruntime.NewFromConfig(cfg)
	sc := search.NewClient(cfg, endpoint, index)

	return &AskHandler{
		retriever: &rag.Retriever{Bedrock: br, Search: sc},
		generator: &rag.Generator{Bedrock: br},
		ddb:       dynamodb.NewFromConfig(cfg),

		topK:              envInt("RETRIEVAL_TOP_K", 5),
		retrievalTimeout:  envMillis("RETRIEVAL_TIMEOUT_MS", 10*time.Second),
		generationTimeout: envMillis("GENERATION_TIMEOUT_MS", 25*time.Second),

		embedModel: strings.TrimSpace(os.Getenv("EMBED_MODEL_ID")),
		genModel:   strings.TrimSpace(os.Getenv("GENERATION_MODEL_ID")),
		index:      index,
	}
}

type AskRequest struct {
	Query string `json:"query"`
}

func (h *AskHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	started := time.Now()

	var body AskRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return jsonErr(http.StatusBadRequest, KindValidation, "invalid JSON body"), nil
	}
	body.Query = strings.TrimSpace(body.Query)
	if body.Query == "" {
		return jsonErr(http.StatusBadRequest, KindValidation, "query must be non-empty"), nil
	}

	ck := rag.CacheKey{
		Question:   body.Query,
		Index:      h.index,
		EmbedModel: h.embedModel,
		GenModel:   h.genModel,
		TopK:       h.topK,
	}

	if h.ddb != nil {
		if cached, ok, err := rag.GetCachedAnswer(ctx, h.ddb, ck); err == nil && ok {
			h.logQuery(ctx, body.Query, started, cached.PassageCount, true)
			return jsonOK(map[string]any{"answer": cached.Answer}), nil
		}
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, h.retrievalTimeout)
	passages, err := h.retriever.Retrieve(retrieveCtx, body.Query, h.topK)
	cancel()
	if err != nil {
		return jsonErr(statusFor(err), KindRetrieval, err.Error()), nil
	}

	generateCtx, cancel := context.WithTimeout(ctx, h.generationTimeout)
	answer, err := h.generator.Generate(generateCtx, body.Query, passages)
	cancel()
	if err != nil {
		return jsonErr(statusFor(err), KindGeneration, err.Error()), nil
	}

	if h.ddb != nil {
		if err := rag.PutCachedAnswer(ctx, h.ddb, ck, rag.CachedAnswer{
			Answer:       answer,
			PassageCount: len(passages),
		}); err != nil {
			fmt.Printf("ask: cache put failed: %v\n", err)
		}
		h.logQuery(ctx, body.Query, started, len(passages), false)
	}

	return jsonOK(map[string]any{"answer": answer}), nil
}

func (h *AskHandler) logQuery(ctx context.Context, question string, started time.Time, passages int, cacheHit bool) {
	err := rag.PutQueryLog(ctx, h.ddb, rag.QueryLogEntry{
		Date:         time.Now().UTC().Format("2006-01-02"),
		QuestionHash: rag.HashKeyMaterial(rag.NormalizeQuestion(question)),
		LatencyMs:    time.Since(started).Milliseconds(),
		PassageCount: passages,
		CacheHit:     cacheHit,
	})
	if err != nil {
		fmt.Printf("ask: query log put failed: %v\n", err)
	}
}

// statusFor maps an outbound-call failure to 504 on timeout, 502 otherwise.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func jsonOK(v any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(b),
	}
}

func jsonErr(status int, kind, message string) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(map[string]any{
		"error":   kind,
		"message": message,
	})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(b),
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envMillis(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
