// Package relay is the HTTP client for the outbound mail relay API. The
// relay owns SMTP and provider mechanics; this side only submits fully
// composed messages and reads back the acceptance line.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment carries an inline image extracted from the HTML body. Data is
// the original data: URI; the relay decodes it into a MIME part referenced
// by the cid.
type Attachment struct {
	CID  string `json:"cid"`
	Data string `json:"data"`
}

type Message struct {
	From         Address           `json:"from"`
	To           Address           `json:"to"`
	EnvelopeFrom string            `json:"envelopeFrom,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Subject      string            `json:"subject"`
	HTML         string            `json:"html,omitempty"`
	Text         string            `json:"text,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
}

type Response struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (c *Client) Send(ctx context.Context, msg *Message) (Response, int, []byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Response{}, 0, nil, err
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/api/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Response{}, 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out Response
	_ = json.Unmarshal(b, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return out, resp.StatusCode, b, errors.New(out.Message)
		}
		return out, resp.StatusCode, b, errors.New("relay send failed")
	}
	return out, resp.StatusCode, b, nil
}

// ResponseID extracts the correlation token from a relay acceptance or error
// line: the last whitespace-separated token, the same token bounce webhooks
// carry.
func ResponseID(response string) string {
	fields := strings.Fields(response)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
