// Package flutterwave is a narrow client for the card checkout REST API.
package flutterwave

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
)

type Client interface {
	CreatePaymentLink(ctx context.Context, req *PaymentRequest) (string, error)
	ListSubscriptions(ctx context.Context, email string) ([]Subscription, error)
	VerifyTransaction(ctx context.Context, id int64) (*Transaction, error)
}

type httpClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.CardConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		secretKey:  cfg.SecretKey,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// VerifyWebhook compares the verif-hash header against the configured hash.
func VerifyWebhook(secretHash, header string) bool {
	if secretHash == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secretHash), []byte(header)) == 1
}

func transient(op string, err error) error {
	return &errs.TransientProviderError{Provider: "card", Op: op, Err: err}
}

func (c *httpClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transient(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transient(op, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return transient(op, errors.New("unexpected status: "+resp.Status))
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: invalid response: %w", op, err)
	}
	if resp.StatusCode >= 400 || env.Status != "success" {
		return fmt.Errorf("%s: %s (%s)", op, env.Message, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: invalid data: %w", op, err)
	}
	return nil
}

func (c *httpClient) CreatePaymentLink(ctx context.Context, req *PaymentRequest) (string, error) {
	var link paymentLink
	if err := c.do(ctx, "create payment", http.MethodPost, "/payments", req, &link); err != nil {
		return "", err
	}
	if link.Link == "" {
		return "", errors.New("create payment: empty checkout link")
	}
	return link.Link, nil
}

func (c *httpClient) ListSubscriptions(ctx context.Context, email string) ([]Subscription, error) {
	var subs []Subscription
	path := "/subscriptions?" + url.Values{"email": {email}}.Encode()
	if err := c.do(ctx, "list subscriptions", http.MethodGet, path, nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (c *httpClient) VerifyTransaction(ctx context.Context, id int64) (*Transaction, error) {
	var tx Transaction
	path := "/transactions/" + strconv.FormatInt(id, 10) + "/verify"
	if err := c.do(ctx, "verify transaction", http.MethodGet, path, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
