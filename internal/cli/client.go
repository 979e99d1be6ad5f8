package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"typebet/internal/accounts"
)

// APIError is a non-2xx answer from the TypeBet API.
type APIError struct {
	Status int
	Code   string
	Msg    string
	Raw    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Msg)
}

// Retryable reports whether replaying the same request later can succeed.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, name string) (accounts.Session, error) {
	var out accounts.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"name":     name,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (accounts.Session, error) {
	var out accounts.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) PlaceWager(ctx context.Context, accessToken string, amount int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/wagers", accessToken, map[string]any{
		"amount": amount,
	}, &out, idem)
	return out, err
}

func SettlePath(attemptID string) string {
	return "/v1/attempts/" + url.PathEscape(attemptID) + "/settle"
}

func SettleBody(correctCount int64, accuracy float64) map[string]any {
	return map[string]any{
		"correct_count": correctCount,
		"accuracy":      accuracy,
	}
}

func (c *Client) Settle(ctx context.Context, accessToken, attemptID string, correctCount int64, accuracy float64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, SettlePath(attemptID), accessToken, SettleBody(correctCount, accuracy), &out, "")
	return out, err
}

func (c *Client) CompletePractice(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/practice/complete", accessToken, map[string]any{}, &out, "")
	return out, err
}

func (c *Client) Rank(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rank", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, accessToken string, limit, offset int) (map[string]any, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard?"+q.Encode(), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Attempt(ctx context.Context, accessToken, attemptID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/attempts/"+url.PathEscape(attemptID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, accessToken, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status, Msg: strings.TrimSpace(string(raw)), Raw: raw}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Msg = body.Error
		apiErr.Code = body.Code
	}
	return apiErr
}
