package graphapi

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID string `json:"client_id"`
	Graph    *Graph `json:"prompt"`
}

// NewPrompt wraps a filled-in graph in the envelope POST /prompt expects
func NewPrompt(clientID string, g *Graph) *Prompt {
	return &Prompt{
		ClientID: clientID,
		Graph:    g,
	}
}
