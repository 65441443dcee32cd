package executor

import "github.com/tidwall/gjson"

type GenerateRequest struct {
	Options map[string]any `json:"options,omitempty"`
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
}

type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	DoneReason      string `json:"done_reason,omitempty"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Done            bool   `json:"done"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Options  map[string]any `json:"options,omitempty"`
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
}

type ChatResponse struct {
	Model      string  `json:"model"`
	DoneReason string  `json:"done_reason,omitempty"`
	Message    Message `json:"message"`
	EvalCount  int     `json:"eval_count,omitempty"`
	Done       bool    `json:"done"`
}

type EmbedRequest struct {
	Options map[string]any `json:"options,omitempty"`
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
}

type EmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Chunk is one line of a streaming response. Text is the partial output
// from either the generate ("response") or chat ("message.content") shape.
type Chunk struct {
	Raw  []byte
	Text string
	Done bool
}

func parseChunk(line []byte) (Chunk, bool) {
	if !gjson.ValidBytes(line) {
		return Chunk{}, false
	}
	parsed := gjson.ParseBytes(line)
	if !parsed.IsObject() {
		return Chunk{}, false
	}

	raw := make([]byte, len(line))
	copy(raw, line)

	text := parsed.Get("response")
	if !text.Exists() {
		text = parsed.Get("message.content")
	}

	return Chunk{
		Raw:  raw,
		Text: text.String(),
		Done: parsed.Get("done").Bool(),
	}, true
}
