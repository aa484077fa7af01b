package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"P2PDesk/internal/models"
)

// TokenSource supplies a currently-valid access token for authenticated
// calls. The identity cache implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the trading backend's REST API. Every response is either a
// full order snapshot or a classified *Error; callers never see raw
// transport failures.
type Client struct {
	baseURL      string
	refreshToken string
	client       *http.Client
	tokens       TokenSource
}

func NewClient(baseURL, refreshToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		refreshToken: refreshToken,
		client:       &http.Client{Timeout: timeout},
	}
}

// SetTokenSource wires the access-token provider after construction; the
// identity cache needs the client first, so the dependency is circular at
// build time only.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var out models.Order
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkPaid reports the fiat transfer as sent. requestID deduplicates the
// attempt server-side and in the journal.
func (c *Client) MarkPaid(ctx context.Context, orderID, requestID string) (*models.Order, error) {
	return c.postAction(ctx, orderID, "mark-paid", requestID, nil)
}

// Confirm releases the escrowed funds for a paid order.
func (c *Client) Confirm(ctx context.Context, orderID, requestID string) (*models.Order, error) {
	return c.postAction(ctx, orderID, "confirm", requestID, nil)
}

// Cancel voids a pending order. auto marks a countdown-triggered
// cancellation as opposed to an operator one.
func (c *Client) Cancel(ctx context.Context, orderID, requestID string, auto bool) (*models.Order, error) {
	return c.postAction(ctx, orderID, "cancel", requestID, map[string]bool{"auto": auto})
}

func (c *Client) postAction(ctx context.Context, orderID, action, requestID string, body any) (*models.Order, error) {
	var out models.Order
	path := "/api/v1/orders/" + orderID + "/" + action
	if err := c.doJSON(ctx, http.MethodPost, path, body, requestID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches the viewer identity and the current access token.
func (c *Client) Session(ctx context.Context) (models.Identity, string, error) {
	var out struct {
		Identity    models.Identity `json:"identity"`
		AccessToken string          `json:"access_token"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/session", nil, "", &out); err != nil {
		return models.Identity{}, "", err
	}
	return out.Identity, out.AccessToken, nil
}

// MintToken exchanges the configured refresh token for a fresh access token.
// It is the only call authenticated by the refresh token itself.
func (c *Client) MintToken(ctx context.Context) (string, error) {
	body := map[string]string{"refresh_token": c.refreshToken}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", transient(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", transient(err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &Error{Kind: KindAuthorization, Message: "token endpoint returned no access token"}
	}
	return out.AccessToken, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requestID string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return transient(err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return transient(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &Error{Kind: KindAuthorization, Message: "access token unavailable: " + err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, errorMessage(resp.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transient(err)
	}
	return nil
}

// errorMessage pulls the backend's {"error": "..."} body, falling back to the
// raw text for non-JSON replies.
func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(data))
}
