package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

func embedModelID() string {
	if v := strings.TrimSpace(os.Getenv("EMBED_MODEL_ID")); v != "" {
		return v
	}
	return "amazon.titan-embed-text-v1"
}

func generationModelID() string {
	if v := strings.TrimSpace(os.Getenv("GENERATION_MODEL_ID")); v != "" {
		return v
	}
	return "anthropic.claude-v2"
}

func generationMaxTokens() int {
	v := strings.TrimSpace(os.Getenv("GENERATION_MAX_TOKENS"))
	if v == "" {
		return 200
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 200
	}
	return n
}

// EmbedText returns the Titan embedding vector for the given text.
func EmbedText(ctx context.Context, c BedrockClient, text string) ([]float64, error) {
	payload := map[string]any{"inputText": text}
	body, _ := json.Marshal(payload)

	out, err := c.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(embedModelID()),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel (embed): %w", err)
	}

	var raw struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(out.Body, &raw); err != nil {
		return nil, fmt.Errorf("embed response unmarshal: %w", err)
	}
	if len(raw.Embedding) == 0 {
		return nil, fmt.Errorf("embed response has no embedding")
	}
	return raw.Embedding, nil
}

// BuildPrompt assembles the generation prompt from the retrieved study
// material and the user's question.
func BuildPrompt(question string, passages []string) string {
	material := strings.Join(passages, "\n\n")
	return fmt.Sprintf("Use the following study material to answer the question.\n\n%s\n\nQuestion: %s\nAnswer:", material, question)
}

// GenerateAnswer sends the prompt to Claude on Bedrock using the
// Anthropic messages payload and returns the answer text.
func GenerateAnswer(ctx context.Context, c BedrockClient, prompt string) (string, error) {
	payload := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        generationMaxTokens(),
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
				},
			},
		},
	}
	body, _ := json.Marshal(payload)

	out, err := c.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(generationModelID()),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock InvokeModel (generate): %w", err)
	}

	// Claude returns { "content":[{"type":"text","text":"..."}], ... }
	var raw struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(out.Body, &raw); err != nil {
		return "", fmt.Errorf("generation response unmarshal: %w", err)
	}

	var text string
	for _, part := range raw.Content {
		if part.Type == "text" {
			text += part.Text
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("model returned empty answer")
	}
	return text, nil
}
