package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goodcleanfun/plqbot/core/game"
	"github.com/goodcleanfun/plqbot/core/netutil"
)

// DefaultAPIURL is the Send API endpoint.
const DefaultAPIURL = "https://graph.facebook.com/v2.6/me/messages"

// APIError is a non-2xx answer from the Send API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("messenger: send api: %s (code %d) (%d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("messenger: send api: %s (%d)", e.Message, e.StatusCode)
}

// HTTPStatus returns the HTTP status of the response.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client posts messages to the Send API.
type Client struct {
	http      *http.Client
	apiURL    string
	pageToken string
}

// NewClient builds a Client. A nil httpClient uses netutil.BuildHTTPClient.
func NewClient(httpClient *http.Client, apiURL, pageToken string) *Client {
	if httpClient == nil {
		httpClient = netutil.BuildHTTPClient(netutil.ClientOptions{})
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{http: httpClient, apiURL: apiURL, pageToken: pageToken}
}

// Send delivers m to recipientID.
func (c *Client) Send(ctx context.Context, recipientID string, m game.Message) error {
	body, err := json.Marshal(SendRequest{Recipient: Party{ID: recipientID}, Message: toSendMessage(m)})
	if err != nil {
		return fmt.Errorf("messenger: encode: %w", err)
	}
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return fmt.Errorf("messenger: api url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", c.pageToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messenger: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb apiErrorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
		apiErr.Message = eb.Error.Message
		apiErr.Code = eb.Error.Code
	}
	return apiErr
}

func toSendMessage(m game.Message) SendMessage {
	switch m.Kind {
	case game.KindImage:
		return SendMessage{Attachment: &Attachment{Type: "image", Payload: AttachmentPayload{URL: m.ImageURL}}}
	case game.KindQuickReplies:
		out := SendMessage{Text: m.Text}
		for _, qr := range m.QuickReplies {
			ct := qr.ContentType
			if ct == "" {
				ct = "text"
			}
			out.QuickReplies = append(out.QuickReplies, SendQuickReply{ContentType: ct, Title: qr.Title, Payload: qr.Payload})
		}
		return out
	default:
		return SendMessage{Text: m.Text}
	}
}
