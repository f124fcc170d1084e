package httpclient

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

type RestyClient struct {
	client *resty.Client
}

// New builds a JSON client rooted at baseURL. headers are sent with every request.
func New(baseURL string, timeout time.Duration, headers map[string]string) HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeaders(headers)

	return &RestyClient{client: client}
}

func (rc *RestyClient) Get(ctx context.Context, endpoint string, queryParams map[string]string, result interface{}) (*BaseResponse, error) {
	req := rc.client.R().SetContext(ctx).SetResult(result)
	if queryParams != nil {
		req.SetQueryParams(queryParams)
	}

	resp, err := req.Get(endpoint)
	return toResponse(resp, err)
}

func (rc *RestyClient) Post(ctx context.Context, endpoint string, body interface{}, result interface{}) (*BaseResponse, error) {
	req := rc.client.R().SetContext(ctx).SetResult(result)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Post(endpoint)
	return toResponse(resp, err)
}

func toResponse(resp *resty.Response, err error) (*BaseResponse, error) {
	if err != nil {
		return nil, err
	}
	base := &BaseResponse{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Headers:    resp.Header(),
	}
	if resp.IsError() {
		return base, &StatusError{StatusCode: resp.StatusCode(), Body: resp.Body()}
	}
	return base, nil
}
