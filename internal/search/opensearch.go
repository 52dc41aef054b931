package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// Passage is one retrieved fragment of indexed study material.
type Passage struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Doer lets tests swap the HTTP transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to an OpenSearch Serverless collection. There is no
// aws-sdk-go-v2 service client for data-plane calls, so requests are
// SigV4-signed (service "aoss") and sent over plain HTTP.
type Client struct {
	baseURL string
	index   string
	region  string
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	httpc   Doer
}

func NewClient(cfg aws.Config, endpoint, index string) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		index:   index,
		region:  cfg.Region,
		creds:   cfg.Credentials,
		signer:  v4.NewSigner(),
		httpc:   &http.Client{},
	}
}

// KNNSearch returns the top-k passages nearest to vector, best first.
func (c *Client) KNNSearch(ctx context.Context, vector []float64, k int) ([]Passage, error) {
	if k <= 0 {
		k = 5
	}
	query := map[string]any{
		"size": k,
		"query": map[string]any{
			"knn": map[string]any{
				"vector": map[string]any{
					"vector": vector,
					"k":      k,
				},
			},
		},
		"_source": []string{"text"},
	}
	body, _ := json.Marshal(query)

	respBody, err := c.do(ctx, http.MethodPost, "/"+c.index+"/_search", body)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					Text string `json:"text"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("search response unmarshal: %w", err)
	}

	passages := make([]Passage, 0, len(raw.Hits.Hits))
	for _, h := range raw.Hits.Hits {
		if strings.TrimSpace(h.Source.Text) == "" {
			continue
		}
		passages = append(passages, Passage{Text: h.Source.Text, Score: h.Score})
	}
	return passages, nil
}

// IndexDocument upserts one document under the given id.
func (c *Client) IndexDocument(ctx context.Context, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	_, err = c.do(ctx, http.MethodPut, "/"+c.index+"/_doc/"+id, body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("missing opensearch endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	if err := c.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "aoss", c.region, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opensearch %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("opensearch read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("opensearch %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(respBody), 300))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
