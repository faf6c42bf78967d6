package responses

// Wire types for the /v1/responses endpoint. The input is either a string
// or a heterogeneous item array; items use an optional "type" discriminator
// (plain messages omit it).

type createRequest struct {
	Model              string           `json:"model"`
	Input              any              `json:"input"`
	Instructions       string           `json:"instructions,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	MaxOutputTokens    *int             `json:"max_output_tokens,omitempty"`
	Stream             bool             `json:"stream"`
	Reasoning          *reasoningConfig `json:"reasoning,omitempty"`
	Tools              []responseTool   `json:"tools,omitempty"`
}

type reasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type responseTool struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// inputItem is one element of the input array: a role message, a replayed
// function_call, or a function_call_output.
type inputItem struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// eventPayload is the union of the streaming event bodies the adapter
// consumes. Each event type populates a subset.
type eventPayload struct {
	Type        string        `json:"type"`
	Delta       string        `json:"delta,omitempty"`
	OutputIndex int           `json:"output_index,omitempty"`
	Item        *outputItem   `json:"item,omitempty"`
	Response    *responseBody `json:"response,omitempty"`
	Message     string        `json:"message,omitempty"`
}

type outputItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type responseBody struct {
	ID     string        `json:"id"`
	Status string        `json:"status,omitempty"`
	Usage  *usageDetails `json:"usage,omitempty"`
	Error  *errorDetails `json:"error,omitempty"`
}

type usageDetails struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type errorDetails struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
