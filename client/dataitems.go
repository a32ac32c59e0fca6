package client

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version,omitempty"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

type QueueExecInfo struct {
	ExecInfo struct {
		QueueRemaining int `json:"queue_remaining"`
	} `json:"exec_info"`
}

// NodeOutput is what one output node produced. Only images are read; other output
// kinds (text, gifs, ...) are ignored.
type NodeOutput struct {
	Images []DataOutput `json:"images"`
}

type PromptStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// PromptHistoryItem is one entry of GET /history/{prompt_id}. Outputs keeps the order
// the backend wrote the output nodes in.
type PromptHistoryItem struct {
	PromptID string                                     `json:"-"`
	Outputs  *orderedmap.OrderedMap[string, NodeOutput] `json:"outputs"`
	Status   PromptStatus                               `json:"status"`
}

// FirstImages returns the images of the first output node, in document order, that
// has any. ok is false when no node has produced an image yet.
func (p *PromptHistoryItem) FirstImages() (nodeID string, images []DataOutput, ok bool) {
	if p == nil || p.Outputs == nil {
		return "", nil, false
	}
	for pair := p.Outputs.Oldest(); pair != nil; pair = pair.Next() {
		if len(pair.Value.Images) > 0 {
			return pair.Key, pair.Value.Images, true
		}
	}
	return "", nil, false
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

// PromptErrorMessage is the body ComfyUI answers a rejected POST /prompt with
type PromptErrorMessage struct {
	Error      PromptError            `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}
