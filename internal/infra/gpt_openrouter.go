package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Vovarama1992/voicejournal/internal/ports"
)

type GPTClient struct {
	apiKey string
	client *http.Client
}

func NewGPTClient() ports.Summarizer {
	return &GPTClient{
		apiKey: os.Getenv("OPENROUTER_API_KEY"),
		client: &http.Client{},
	}
}

// sanitize: strip broken UTF-8 before shipping text to the API
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "")
}

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orRequest struct {
	Model     string      `json:"model"`
	Messages  []orMessage `json:"messages"`
	MaxTokens int         `json:"max_tokens"`
}

type orResponse struct {
	Choices []struct {
		Message orMessage `json:"message"`
	} `json:"choices"`
}

const summarySystemPrompt = `You are given the transcript of a spoken journal entry.

Write a short summary of it: two or three sentences, first person
preserved, no preamble, no commentary about transcription quality.
If the transcript is fragmentary, summarize whatever is there instead
of refusing.`

func (g *GPTClient) Summarize(ctx context.Context, transcript string) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("no OPENROUTER_API_KEY")
	}

	transcript = sanitize(transcript)

	body := orRequest{
		Model:     "openai/gpt-4o-mini",
		MaxTokens: 300,
		Messages: []orMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: transcript},
		},
	}

	j, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(
			ctx,
			"POST",
			"https://openrouter.ai/api/v1/chat/completions",
			bytes.NewReader(j),
		)
		if err != nil {
			continue
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("X-Title", "voicejournal")

		resp, err := g.client.Do(req)
		if err != nil {
			continue
		}

		rawResp, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		rawResp = bytes.TrimLeftFunc(rawResp, func(r rune) bool {
			return r == '\n' || r == '\r' || r == ' ' || r == '\t'
		})
		if len(rawResp) == 0 {
			continue
		}

		var out orResponse
		if err := json.Unmarshal(rawResp, &out); err != nil {
			continue
		}

		if len(out.Choices) == 0 {
			continue
		}

		return out.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("summary failed after retries")
}
