// Package apple_iap talks to the App Store Server API and the legacy
// receipt endpoint.
package apple_iap

import (
	"context"
	"fmt"

	"github.com/awa/go-iap/appstore"
	"github.com/awa/go-iap/appstore/api"

	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
)

type Options struct {
	KeyID        string
	KeyContent   string
	BundleID     string
	Issuer       string
	Sandbox      bool
	SharedSecret string
}

func OptionsFromConfig(cfg config.AppleIAPConfig) *Options {
	return &Options{
		KeyID:        cfg.KeyID,
		KeyContent:   cfg.KeyContent,
		BundleID:     cfg.BundleID,
		Issuer:       cfg.Issuer,
		SharedSecret: cfg.SharedSecret,
		Sandbox:      !cfg.IsProd,
	}
}

// Check returns a ConfigurationError naming the first missing credential.
func (o *Options) Check() error {
	if o == nil {
		return &errs.ConfigurationError{Component: "store", Reason: "apple_iap options are nil"}
	}
	for _, kv := range []struct{ key, value string }{
		{"apple_iap.key_id", o.KeyID},
		{"apple_iap.key_content", o.KeyContent},
		{"apple_iap.bundle_id", o.BundleID},
		{"apple_iap.issuer", o.Issuer},
	} {
		if config.IsPlaceholder(kv.value) {
			return &errs.ConfigurationError{Component: "store", Reason: kv.key + " is missing"}
		}
	}
	return nil
}

// Client is the subset of the App Store APIs the store provider relies on.
type Client interface {
	// Transaction fetches and decodes a signed transaction.
	Transaction(ctx context.Context, transactionID string) (*api.JWSTransaction, error)
	// RenewalInfo returns the renewal state of the transaction's product, or
	// nil when it does not renew.
	RenewalInfo(ctx context.Context, tx *api.JWSTransaction) (*api.JWSRenewalInfoDecodedPayload, error)
	// VerifyReceipt validates base64 receipt data with the legacy endpoint.
	VerifyReceipt(ctx context.Context, receiptData string) (*appstore.IAPResponse, error)
}

type storeClient struct {
	server   *api.StoreClient
	receipts *appstore.Client
	opts     *Options
}

func NewClient(opts *Options) (Client, error) {
	if err := opts.Check(); err != nil {
		return nil, err
	}
	server := api.NewStoreClient(&api.StoreConfig{
		KeyContent: []byte(opts.KeyContent),
		KeyID:      opts.KeyID,
		BundleID:   opts.BundleID,
		Issuer:     opts.Issuer,
		Sandbox:    opts.Sandbox,
	})
	receipts := appstore.New()
	if opts.Sandbox {
		receipts.ProductionURL = receipts.SandboxURL
	}
	return &storeClient{server: server, receipts: receipts, opts: opts}, nil
}

func transient(op string, err error) error {
	return &errs.TransientProviderError{Provider: "store", Op: op, Err: err}
}

func (c *storeClient) Transaction(ctx context.Context, transactionID string) (*api.JWSTransaction, error) {
	resp, err := c.server.GetTransactionInfo(ctx, transactionID)
	if err != nil {
		return nil, transient("get transaction info", err)
	}
	tx, err := c.server.ParseSignedTransaction(resp.SignedTransactionInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed transaction: %w", err)
	}
	return tx, nil
}

func (c *storeClient) RenewalInfo(ctx context.Context, tx *api.JWSTransaction) (*api.JWSRenewalInfoDecodedPayload, error) {
	if tx == nil || tx.Type != api.AutoRenewable {
		return nil, nil
	}
	statuses, err := c.server.GetALLSubscriptionStatuses(ctx, tx.TransactionID, nil)
	if err != nil {
		return nil, transient("get subscription statuses", err)
	}
	for _, group := range statuses.Data {
		if group.SubscriptionGroupIdentifier != tx.SubscriptionGroupIdentifier {
			continue
		}
		for _, last := range group.LastTransactions {
			value, err := c.server.ParseJWSEncodeString(last.SignedRenewalInfo)
			if err != nil {
				return nil, fmt.Errorf("failed to parse signed renewal info: %w", err)
			}
			info, ok := value.(*api.JWSRenewalInfoDecodedPayload)
			if ok && info.ProductId == tx.ProductID {
				return info, nil
			}
		}
	}
	return nil, nil
}

func (c *storeClient) VerifyReceipt(ctx context.Context, receiptData string) (*appstore.IAPResponse, error) {
	if config.IsPlaceholder(c.opts.SharedSecret) {
		return nil, &errs.ConfigurationError{Component: "store", Reason: "apple_iap.shared_secret is missing"}
	}
	var result appstore.IAPResponse
	err := c.receipts.Verify(ctx, appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               c.opts.SharedSecret,
		ExcludeOldTransactions: false,
	}, &result)
	if err != nil {
		return nil, transient("verify receipt", err)
	}
	if result.Status != 0 {
		return nil, fmt.Errorf("receipt rejected with status %d", result.Status)
	}
	return &result, nil
}
