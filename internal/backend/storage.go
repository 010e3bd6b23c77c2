package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

var unsafeObjectChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectPath builds the time-prefixed storage path of an upload.
func ObjectPath(filename string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeObjectChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "upload"
	}
	return fmt.Sprintf("%d_%s", now.UnixMilli(), name)
}

// Upload stores data in bucket at objectPath and returns the public URL.
func (c *Client) Upload(ctx context.Context, accessToken, bucket, objectPath, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.do(ctx, reqConfig{
		Method:      http.MethodPost,
		Path:        "/storage/v1/object/" + url.PathEscape(bucket) + "/" + escapeObjectPath(objectPath),
		Token:       accessToken,
		Body:        data,
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	return c.PublicURL(bucket, objectPath), nil
}

// PublicURL returns the public address of an object in a public bucket.
func (c *Client) PublicURL(bucket, objectPath string) string {
	return c.baseURL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapeObjectPath(objectPath)
}

func escapeObjectPath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
