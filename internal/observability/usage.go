package observability

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateUsage approximates token usage for a completed request. The
// upstream CLI reports no usage, so counts are estimated with the
// cl100k_base encoding; if the encoding cannot be loaded the estimate
// falls back to bytes/4.
func EstimateUsage(promptText, completionText string) openai.Usage {
	promptTokens := tokenCount(promptText)
	completionTokens := tokenCount(completionText)
	return openai.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

func tokenCount(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
