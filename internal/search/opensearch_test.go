package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() aws.Config {
	return aws.Config{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
	}
}

func TestKNNSearch(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)

		_, _ = w.Write([]byte(`{
			"hits": {"hits": [
				{"_score": 0.93, "_source": {"text": "IAM manages access."}},
				{"_score": 0.71, "_source": {"text": "S3 stores objects."}},
				{"_score": 0.10, "_source": {"text": "   "}}
			]}
		}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(), srv.URL, "cert-embeddings")

	passages, err := c.KNNSearch(context.Background(), []float64{0.1, 0.2}, 5)
	require.NoError(t, err)

	assert.Equal(t, "/cert-embeddings/_search", gotPath)
	assert.Contains(t, gotAuth, "AWS4-HMAC-SHA256")
	assert.Contains(t, gotAuth, "aoss")

	// Request carries the knn query and source filter.
	assert.Equal(t, float64(5), gotBody["size"])
	assert.Contains(t, gotBody, "query")
	assert.Equal(t, []any{"text"}, gotBody["_source"])

	// Blank-source hit is dropped.
	require.Len(t, passages, 2)
	assert.Equal(t, Passage{Text: "IAM manages access.", Score: 0.93}, passages[0])
	assert.Equal(t, Passage{Text: "S3 stores objects.", Score: 0.71}, passages[1])
}

func TestKNNSearch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "collection unavailable"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(), srv.URL, "cert-embeddings")

	_, err := c.KNNSearch(context.Background(), []float64{0.1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestIndexDocument(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write([]byte(`{"result": "created"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(), srv.URL, "cert-embeddings")

	err := c.IndexDocument(context.Background(), "notes.txt-0", map[string]any{
		"text":   "IAM manages access.",
		"source": "notes.txt",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/cert-embeddings/_doc/notes.txt-0", gotPath)
	assert.Equal(t, "IAM manages access.", gotBody["text"])
}

func TestClient_MissingEndpoint(t *testing.T) {
	c := NewClient(testConfig(), "", "cert-embeddings")
	_, err := c.KNNSearch(context.Background(), []float64{0.1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing opensearch endpoint")
}
