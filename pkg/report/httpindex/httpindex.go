// Package httpindex publishes mission reports to a remote document index
// over HTTP.
package httpindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nstogner/padawan/pkg/caller"
	"github.com/nstogner/padawan/pkg/report"
)

// Client uploads documents with POST <url>/documents.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	caller     *caller.Caller
}

var _ report.Publisher = (*Client)(nil)

// New creates a client for the index rooted at url.
func New(url, apiKey string, c *caller.Caller) *Client {
	return &Client{
		url:        strings.TrimRight(url, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		caller:     c,
	}
}

type uploadRequest struct {
	ExternalID string `json:"external_id"`
	Label      string `json:"label"`
	Contents   string `json:"contents"`
}

type uploadResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
}

// Publish uploads the document keyed by mission ID and returns the index's
// document ID.
func (c *Client) Publish(ctx context.Context, doc report.Document) (string, error) {
	payload, err := json.Marshal(uploadRequest{ExternalID: doc.MissionID, Label: doc.Label, Contents: doc.Text})
	if err != nil {
		return "", err
	}

	return caller.Call(ctx, c.caller, "report", func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/documents", bytes.NewReader(payload))
		if err != nil {
			return "", caller.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("uploading report: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", caller.WithStatus(resp.StatusCode,
				fmt.Errorf("document index returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		var out uploadResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", caller.Permanent(fmt.Errorf("decoding upload response: %w", err))
		}
		if out.DocumentID != "" {
			return out.DocumentID, nil
		}
		if out.ID == "" {
			return "", caller.Permanent(fmt.Errorf("upload response has no document id"))
		}
		return out.ID, nil
	})
}
