package panel

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const problemContentType = "application/problem+json"

type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// APIError is an error response in Problem Details (RFC 7807) form
type APIError struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail"`
	Instance      string         `json:"instance,omitempty"`
	InvalidParams []InvalidParam `json:"invalidParams,omitempty"`
}

func (e APIError) Error() string { return e.Detail }

func newProblem(status int, instance, detail string, params ...InvalidParam) APIError {
	return APIError{
		Type:          "https://developer.mozilla.org/en-US/docs/Web/HTTP/Reference/Status/" + strconv.Itoa(status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      instance,
		InvalidParams: params,
	}
}

func NewBadRequest(instance, detail string, params ...InvalidParam) APIError {
	return newProblem(http.StatusBadRequest, instance, detail, params...)
}

func NewNotFound(instance, detail string) APIError {
	return newProblem(http.StatusNotFound, instance, detail)
}

func NewConflict(instance, detail string) APIError {
	return newProblem(http.StatusConflict, instance, detail)
}

func NewBadGateway(detail string) APIError {
	return newProblem(http.StatusBadGateway, "", detail)
}

func NewServiceUnavailable(detail string) APIError {
	return newProblem(http.StatusServiceUnavailable, "", detail)
}

func NewInternalServerError(detail string) APIError {
	return newProblem(http.StatusInternalServerError, "", detail)
}

func abortWithProblem(c *gin.Context, p APIError) {
	if p.Instance == "" {
		p.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(p.Status, p)
}
