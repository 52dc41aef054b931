package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/internal/search"
)

type fakeRetriever struct {
	passages []search.Passage
	err      error
	calls    int
	waitCtx  bool // block until ctx expires, then return ctx.Err()
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]search.Passage, error) {
	f.calls++
	if f.waitCtx {
		<-ctx.Done()
		return nil, fmt.Errorf("knn search: %w", ctx.Err())
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type fakeGenerator struct {
	answer   string
	err      error
	calls    int
	passages []search.Passage
}

func (f *fakeGenerator) Generate(ctx context.Context, question string, passages []search.Passage) (string, error) {
	f.calls++
	f.passages = passages
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func newTestHandler(r Retriever, g Generator) *AskHandler {
	return &AskHandler{
		retriever:         r,
		generator:         g,
		topK:              5,
		retrievalTimeout:  time.Second,
		generationTimeout: time.Second,
		index:             "cert-embeddings",
	}
}

func askReq(body string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{Body: body}
}

func decodeBody(t *testing.T, resp events.APIGatewayV2HTTPResponse) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &m))
	return m
}

func TestAskHandler_Success(t *testing.T) {
	retriever := &fakeRetriever{passages: []search.Passage{
		{Text: "IAM lets you manage access to AWS services and resources securely.", Score: 0.91},
	}}
	generator := &fakeGenerator{answer: "IAM is AWS's identity and access management service."}
	h := newTestHandler(retriever, generator)

	resp, err := h.Handle(context.Background(), askReq(`{"query": "What is IAM?"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"answer": "IAM is AWS's identity and access management service."}`, resp.Body)
	assert.Equal(t, 1, retriever.calls)
	assert.Equal(t, 1, generator.calls)
	assert.Equal(t, retriever.passages, generator.passages)
}

func TestAskHandler_Validation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
	}{
		{"empty_query", `{"query": ""}`, "query must be non-empty"},
		{"whitespace_query", `{"query": "   "}`, "query must be non-empty"},
		{"missing_query", `{}`, "query must be non-empty"},
		{"malformed_json", `{"query": `, "invalid JSON body"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retriever := &fakeRetriever{}
			generator := &fakeGenerator{}
			h := newTestHandler(retriever, generator)

			resp, err := h.Handle(context.Background(), askReq(tc.body))
			require.NoError(t, err)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			m := decodeBody(t, resp)
			assert.Equal(t, KindValidation, m["error"])
			assert.Equal(t, tc.message, m["message"])

			// No outbound calls for invalid input.
			assert.Zero(t, retriever.calls)
			assert.Zero(t, generator.calls)
		})
	}
}

func TestAskHandler_RetrievalFailure(t *testing.T) {
	retriever := &fakeRetriever{err: fmt.Errorf("knn search: index not found")}
	generator := &fakeGenerator{answer: "unused"}
	h := newTestHandler(retriever, generator)

	resp, err := h.Handle(context.Background(), askReq(`{"query": "What is IAM?"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, KindRetrieval, m["error"])

	// Generation is never invoked when retrieval fails.
	assert.Zero(t, generator.calls)
}

func TestAskHandler_RetrievalTimeout(t *testing.T) {
	retriever := &fakeRetriever{waitCtx: true}
	generator := &fakeGenerator{answer: "unused"}
	h := newTestHandler(retriever, generator)
	h.retrievalTimeout = 10 * time.Millisecond

	resp, err := h.Handle(context.Background(), askReq(`{"query": "What is IAM?"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, KindRetrieval, m["error"])
	assert.Zero(t, generator.calls)
}

func TestAskHandler_GenerationFailure(t *testing.T) {
	retriever := &fakeRetriever{passages: []search.Passage{{Text: "some passage", Score: 0.5}}}
	generator := &fakeGenerator{err: fmt.Errorf("bedrock InvokeModel (generate): throttled")}
	h := newTestHandler(retriever, generator)

	resp, err := h.Handle(context.Background(), askReq(`{"query": "What is IAM?"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, KindGeneration, m["error"])
}

func TestAskHandler_GenerationTimeout(t *testing.T) {
	retriever := &fakeRetriever{passages: []search.Passage{{Text: "some passage", Score: 0.5}}}
	generator := &fakeGenerator{err: fmt.Errorf("bedrock InvokeModel (generate): %w", context.DeadlineExceeded)}
	h := newTestHandler(retriever, generator)

	resp, err := h.Handle(context.Background(), askReq(`{"query": "What is IAM?"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.Equal(t, KindGeneration, m["error"])
}

func TestAskHandler_EmptyPassagesStillGenerates(t *testing.T) {
	retriever := &fakeRetriever{passages: nil}
	generator := &fakeGenerator{answer: "I could not find that in the study material."}
	h := newTestHandler(retriever, generator)

	resp, err := h.Handle(context.Background(), askReq(`{"query": "What is IAM?"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	m := decodeBody(t, resp)
	assert.NotEmpty(t, m["answer"])
}
