// Package problem renders errors as RFC 7807 Problem Details.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContentType is the media type of a problem response.
const ContentType = "application/problem+json"

// Problem type URIs
const (
	TypeValidationError = "https://salesflow.dev/problems/validation-error"
	TypeNotFound        = "https://salesflow.dev/problems/not-found"
	TypeUnavailable     = "https://salesflow.dev/problems/unavailable"
	TypeNotConfigured   = "https://salesflow.dev/problems/not-configured"
	TypeInternalError   = "https://salesflow.dev/problems/internal-error"
)

// Details represents an RFC 7807 Problem Details response
type Details struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

func (p *Details) Error() string {
	return p.Detail
}

// WithExtra adds a member serialized next to the standard ones.
func (p *Details) WithExtra(key string, value interface{}) *Details {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON flattens Extra into the top-level object.
func (p *Details) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, len(p.Extra)+5)
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	return json.Marshal(result)
}

func newDetails(typ string, status int, detail, instance string) *Details {
	return &Details{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

func Validation(detail, instance string) *Details {
	return newDetails(TypeValidationError, http.StatusBadRequest, detail, instance)
}

func NotFound(detail, instance string) *Details {
	return newDetails(TypeNotFound, http.StatusNotFound, detail, instance)
}

func Unavailable(detail, instance string) *Details {
	return newDetails(TypeUnavailable, http.StatusServiceUnavailable, detail, instance)
}

func NotConfigured(detail, instance string) *Details {
	return newDetails(TypeNotConfigured, http.StatusNotImplemented, detail, instance)
}

func Internal(detail, instance string) *Details {
	return newDetails(TypeInternalError, http.StatusInternalServerError, detail, instance)
}

// Write aborts the request with p.
func Write(c *gin.Context, p *Details) {
	c.Header("Content-Type", ContentType)
	c.AbortWithStatusJSON(p.Status, p)
}
