package flutterwave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.CardConfig{SecretKey: "FLWSECK_TEST", BaseURL: srv.URL})
}

func TestCreatePaymentLink(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments", r.URL.Path)
		require.Equal(t, "Bearer FLWSECK_TEST", r.Header.Get("Authorization"))

		var req PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "u1:abc", req.TxRef)
		require.Equal(t, int64(42), req.PaymentPlan)
		require.Equal(t, "ada@example.com", req.Customer.Email)

		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.example/pay/x"}}`))
	})

	link, err := cli.CreatePaymentLink(context.Background(), &PaymentRequest{
		TxRef: "u1:abc", Amount: "9.99", Currency: "USD", PaymentPlan: 42,
		Customer: Customer{Email: "ada@example.com", Name: "Ada"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example/pay/x", link)
}

func TestListSubscriptions(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/subscriptions", r.URL.Path)
		require.Equal(t, "ada@example.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"status":"success","message":"ok","data":[
			{"id":1,"amount":9.99,"plan":42,"status":"active","created_at":"2026-01-01T10:00:00.000Z","customer":{"id":7,"customer_email":"ada@example.com"}},
			{"id":2,"amount":4.99,"plan":41,"status":"cancelled","created_at":"2025-06-01T10:00:00.000Z","customer":{"id":7,"customer_email":"ada@example.com"}}
		]}`))
	})

	subs, err := cli.ListSubscriptions(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.True(t, subs[0].Active())
	require.False(t, subs[1].Active())
	require.Equal(t, int64(42), subs[0].Plan)
}

func TestVerifyTransaction(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions/99/verify", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","message":"verified","data":{"id":99,"tx_ref":"u1:abc","status":"successful","amount":9.99,"currency":"USD","customer":{"email":"ada@example.com"}}}`))
	})

	tx, err := cli.VerifyTransaction(context.Background(), 99)
	require.NoError(t, err)
	require.True(t, tx.Successful())
	require.Equal(t, "u1:abc", tx.TxRef)
}

func TestClientErrors(t *testing.T) {
	t.Run("server error is transient", func(t *testing.T) {
		cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := cli.ListSubscriptions(context.Background(), "a@b.c")
		require.True(t, errs.IsTransient(err))
	})

	t.Run("rejected request is not transient", func(t *testing.T) {
		cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error","message":"Invalid plan","data":null}`))
		})
		_, err := cli.CreatePaymentLink(context.Background(), &PaymentRequest{TxRef: "x"})
		require.Error(t, err)
		require.False(t, errs.IsTransient(err))
		require.Contains(t, err.Error(), "Invalid plan")
	})

	t.Run("unreachable host is transient", func(t *testing.T) {
		cli := NewClient(config.CardConfig{BaseURL: "http://127.0.0.1:1"})
		_, err := cli.VerifyTransaction(context.Background(), 1)
		require.True(t, errs.IsTransient(err))
	})
}

func TestVerifyWebhook(t *testing.T) {
	require.True(t, VerifyWebhook("hash", "hash"))
	require.False(t, VerifyWebhook("hash", "other"))
	require.False(t, VerifyWebhook("", ""))
}
