package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StatusError is returned for any non-2xx backend response
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	detail := strings.TrimSpace(e.Body)

	// {"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", ...}, "node_errors": {}}
	perror := &PromptErrorMessage{}
	if err := json.Unmarshal([]byte(e.Body), perror); err == nil && perror.Error.Message != "" {
		detail = perror.Error.Message
		if perror.Error.Details != "" {
			detail += ": " + perror.Error.Details
		}
	}

	if detail == "" {
		return fmt.Sprintf("backend returned %s", e.Status)
	}
	return fmt.Sprintf("backend returned %s: %s", e.Status, detail)
}

// IsStatusError reports whether err is a non-2xx backend response
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
