package backend

// OllamaRequest represents the request body for the Ollama chat API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  OllamaOptions       `json:"options"`
}

// OllamaOptions carries sampling parameters
type OllamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// OllamaResponse represents the response from Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// Usage returns token counts in the same shape the hosted APIs report
func (r OllamaResponse) Usage() map[string]interface{} {
	return map[string]interface{}{
		"input_tokens":  float64(r.PromptEvalCount),
		"output_tokens": float64(r.EvalCount),
	}
}
