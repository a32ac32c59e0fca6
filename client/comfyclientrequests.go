package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

/*
Routes used by the panel:

@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/history/{prompt_id}")
@routes.get("/view")
@routes.get("/ws")

@routes.post("/prompt")
*/

func (c *ComfyClient) do(ctx context.Context, method string, route string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, route, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(data),
		}
	}
	return data, nil
}

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	body, err := c.do(ctx, http.MethodGet, c.route("/system_stats", nil), nil)
	if err != nil {
		return nil, err
	}

	retv := &SystemStats{}
	err = json.Unmarshal(body, &retv)
	if err != nil {
		return nil, err
	}
	return retv, nil
}

// CheckConnection reports whether the backend answers /system_stats with a 2xx.
// The body is not inspected.
func (c *ComfyClient) CheckConnection(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.route("/system_stats", nil), nil)
	return err
}

func (c *ComfyClient) GetQueueExecutionInfo(ctx context.Context) (*QueueExecInfo, error) {
	body, err := c.do(ctx, http.MethodGet, c.route("/prompt", nil), nil)
	if err != nil {
		return nil, err
	}

	queue_exec := &QueueExecInfo{}
	err = json.Unmarshal(body, &queue_exec)
	if err != nil {
		return nil, err
	}
	return queue_exec, nil
}

// QueuePrompt posts a prompt to the backend. A rejected prompt comes back as a *StatusError
// whose message carries the backend's own explanation.
func (c *ComfyClient) QueuePrompt(ctx context.Context, prompt interface{}) (*QueueItem, error) {
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, c.route("/prompt", nil), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	item := &QueueItem{}
	err = json.Unmarshal(body, &item)
	if err != nil {
		return nil, fmt.Errorf("decoding queue response: %w", err)
	}
	if item.PromptID == "" {
		return nil, fmt.Errorf("backend accepted the prompt without a prompt_id: %s", string(body))
	}
	return item, nil
}

// GetPromptHistory fetches the history entry for one prompt. It returns nil, nil while
// the backend has no entry for the prompt yet.
func (c *ComfyClient) GetPromptHistory(ctx context.Context, promptID string) (*PromptHistoryItem, error) {
	body, err := c.do(ctx, http.MethodGet, c.route("/history/"+url.PathEscape(promptID), nil), nil)
	if err != nil {
		return nil, err
	}

	history := make(map[string]*PromptHistoryItem)
	err = json.Unmarshal(body, &history)
	if err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	item, ok := history[promptID]
	if !ok || item == nil {
		return nil, nil
	}
	item.PromptID = promptID
	return item, nil
}

// GetImage downloads the pixels of an output image
func (c *ComfyClient) GetImage(ctx context.Context, image DataOutput) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.ImageURL(image), nil)
}
