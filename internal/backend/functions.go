package backend

import (
	"context"
	"net/http"
	"net/url"
)

// Invoke calls the hosted function name with a JSON payload and returns the
// raw JSON response body.
func (c *Client) Invoke(ctx context.Context, accessToken, name string, payload any) ([]byte, error) {
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, reqConfig{
		Method: http.MethodPost,
		Path:   "/functions/v1/" + url.PathEscape(name),
		Token:  accessToken,
		Body:   body,
	})
}
