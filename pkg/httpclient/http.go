package httpclient

import (
	"context"
	"fmt"
	"net/http"
)

type BaseResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// StatusError is returned for any non-2xx answer. Body keeps the server's JSON envelope.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, string(e.Body))
}

type HTTPClient interface {
	Get(ctx context.Context, endpoint string, queryParams map[string]string, result interface{}) (*BaseResponse, error)
	Post(ctx context.Context, endpoint string, body interface{}, result interface{}) (*BaseResponse, error)
}
