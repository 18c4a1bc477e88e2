// Package blob stores item images outside the item record.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

// Store uploads images and releases them again.
type Store interface {
	// Put stores data and returns the URL it can be fetched from.
	Put(ctx context.Context, data []byte, mime string) (string, error)
	// Delete releases the blob behind url. Unknown URLs are not an error.
	Delete(ctx context.Context, url string) error
}

// Client is a Store backed by the realtime store's /api/blobs endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a blob client for the server at baseURL. A nil hc uses a
// client with a 30 second timeout.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// Put uploads data as a multipart form field named "image".
func (c *Client) Put(ctx context.Context, data []byte, mime string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="image"`)
	header.Set("Content-Type", mime)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/blobs", &body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("uploading blob: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("uploading blob: %w: empty url in response", model.ErrStoreUnavailable)
	}
	return out.URL, nil
}

// Delete releases a blob previously returned by Put. URLs that point
// elsewhere are refused rather than sent a bearer token.
func (c *Client) Delete(ctx context.Context, url string) error {
	if !strings.HasPrefix(url, c.baseURL+"/api/blobs/") {
		return fmt.Errorf("deleting blob: %s is not served by %s", url, c.baseURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}
	if err := c.do(req, nil); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	if sentinel := model.ErrorFromCode(body.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, body.Error)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", model.ErrStoreUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body.Error)
}
