// Package notification_handler applies payment provider callbacks. Each
// authenticated callback is logged with its outcome; what it carries is
// written to the ledger and the user's entitlements are re-synced.
package notification_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/service/entitlement/card"
	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	"github.com/fatflowers/subtrack/internal/app/service/transaction"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/apple/apple_notification"
	"github.com/fatflowers/subtrack/internal/platform/flutterwave"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/types"
)

// ErrInvalidSignature means the callback could not be authenticated.
var ErrInvalidSignature = errors.New("invalid webhook signature")

const cardChargeCompleted = "charge.completed"

type AppleVerifier interface {
	Parse(signedPayload string) (*apple_notification.Notification, error)
}

type Recorder interface {
	Record(ctx context.Context, tx *models.StoreTransaction) ([]*ledger.ActiveItem, error)
}

type Users interface {
	Get(ctx context.Context, userID string) (*models.User, error)
}

type Syncer interface {
	Sync(ctx context.Context, id session.Identity) []entitlement.State
	// Source names the provider whose state is written to the user row.
	Source() string
}

type EventSaver interface {
	Save(ctx context.Context, event *models.WebhookEvent)
}

// Outcome is what handling a callback produced. It is stored as the
// event result and returned to the caller.
type Outcome struct {
	Ignored       bool                `json:"ignored"`
	Reason        string              `json:"reason,omitempty"`
	UserID        string              `json:"user_id,omitempty"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Entitlements  []entitlement.State `json:"entitlements,omitempty"`
}

func (o *Outcome) ignore(reason string) {
	o.Ignored = true
	o.Reason = reason
}

type NotificationHandler struct {
	cfg    *config.Config
	apple  AppleVerifier
	card   flutterwave.Client
	ledger Recorder
	users  Users
	sync   Syncer
	events EventSaver
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewNotificationHandler(cfg *config.Config, apple AppleVerifier, cardCli flutterwave.Client, ledger Recorder, users Users, sync Syncer, events EventSaver, log *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{
		cfg:    cfg,
		apple:  apple,
		card:   cardCli,
		ledger: ledger,
		users:  users,
		sync:   sync,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// HandleApple verifies an App Store Server Notification V2 and records the
// transaction it carries. Test notifications and non-subscription products
// are logged as ignored.
func (h *NotificationHandler) HandleApple(ctx context.Context, signedPayload string) (*Outcome, error) {
	n, err := h.apple.Parse(signedPayload)
	if err != nil {
		logctx.FromCtx(ctx, h.log).Warnw("apple notification rejected", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := h.newEvent(ctx, types.PaymentProviderApple, n)
	out := &Outcome{}
	if n.TransactionInfo != nil {
		event.TransactionID = n.TransactionInfo.TransactionID
		out.TransactionID = n.TransactionInfo.TransactionID
	}
	err = h.applyApple(ctx, n, event, out)
	h.finish(ctx, event, out, err)
	return out, err
}

func (h *NotificationHandler) applyApple(ctx context.Context, n *apple_notification.Notification, event *models.WebhookEvent, out *Outcome) error {
	if n.IsTest {
		out.ignore("test notification")
		return nil
	}
	tx, err := transaction.FromNotification(h.cfg, n)
	if errors.Is(err, config.ErrUnknownPaymentItem) {
		out.ignore("unknown product")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to build transaction: %w", err)
	}
	if tx == nil {
		out.ignore("not a subscription product")
		return nil
	}
	event.UserID = &tx.UserID
	out.UserID = tx.UserID

	if _, err := h.ledger.Record(ctx, tx); err != nil {
		return err
	}
	out.Entitlements, err = h.resync(ctx, tx.UserID)
	return err
}

// HandleCard authenticates a card charge callback by its verif-hash header,
// confirms the charge with the provider API and re-syncs the payer.
func (h *NotificationHandler) HandleCard(ctx context.Context, hash string, body []byte) (*Outcome, error) {
	if !flutterwave.VerifyWebhook(h.cfg.Card.SecretHash, hash) {
		logctx.FromCtx(ctx, h.log).Warnw("card webhook rejected")
		return nil, ErrInvalidSignature
	}
	var payload flutterwave.WebhookEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errs.NewValidationError("body", "malformed card webhook payload")
	}

	event := h.newEvent(ctx, types.PaymentProviderCard, json.RawMessage(body))
	out := &Outcome{}
	if payload.Data.ID != 0 {
		event.TransactionID = strconv.FormatInt(payload.Data.ID, 10)
		out.TransactionID = event.TransactionID
	}
	err := h.applyCard(ctx, &payload, event, out)
	h.finish(ctx, event, out, err)
	return out, err
}

func (h *NotificationHandler) applyCard(ctx context.Context, payload *flutterwave.WebhookEvent, event *models.WebhookEvent, out *Outcome) error {
	if payload.Event != cardChargeCompleted {
		out.ignore("event " + payload.Event)
		return nil
	}
	userID, ok := card.UserIDFromTxRef(payload.Data.TxRef)
	if !ok {
		out.ignore("charge not opened by this service")
		return nil
	}
	event.UserID = &userID
	out.UserID = userID

	// the callback body is not trusted beyond the charge id
	charge, err := h.card.VerifyTransaction(ctx, payload.Data.ID)
	if err != nil {
		return err
	}
	if charge.TxRef != payload.Data.TxRef {
		return fmt.Errorf("charge %d: tx_ref mismatch", payload.Data.ID)
	}
	if !charge.Successful() {
		out.ignore("charge " + charge.Status)
		return nil
	}
	out.Entitlements, err = h.resync(ctx, userID)
	return err
}

// resync reconciles every provider for userID so the stored plan follows
// the provider. Users who never signed in have no row yet and are skipped;
// their plan is reconciled on first sign-in.
func (h *NotificationHandler) resync(ctx context.Context, userID string) ([]entitlement.State, error) {
	u, err := h.users.Get(ctx, userID)
	if errs.IsNotFound(err) {
		logctx.FromCtx(ctx, h.log).Infow("webhook for unknown user, sync deferred", "user_id", userID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	states := h.sync.Sync(ctx, session.Identity{UserID: u.ID, Email: u.Email, Name: u.FullName, Role: u.Role})
	return states, syncError(h.sync.Source(), states)
}

// syncError reports a failed fetch of the authoritative provider, which left
// the stored plan stale. A disabled provider is a configuration issue that a
// retry cannot fix and is not reported.
func syncError(source string, states []entitlement.State) error {
	for _, st := range states {
		if st.Provider != source {
			continue
		}
		failed := st.Status == entitlement.StatusFailed || (st.Status == entitlement.StatusReady && st.Err != nil)
		if !failed {
			return nil
		}
		err := st.Err
		if err == nil {
			err = errors.New(st.Error)
		}
		if errs.IsTransient(err) {
			return err
		}
		return &errs.TransientProviderError{Provider: source, Op: "sync", Err: err}
	}
	return nil
}

func (h *NotificationHandler) newEvent(ctx context.Context, provider types.PaymentProvider, data any) *models.WebhookEvent {
	raw, err := json.Marshal(data)
	if err != nil {
		logctx.FromCtx(ctx, h.log).Warnw("failed to marshal webhook payload", "provider", provider, "error", err)
	}
	return &models.WebhookEvent{
		ProviderID: provider,
		TraceID:    logctx.TraceID(ctx),
		ReceivedAt: h.now(),
		Data:       datatypes.JSON(raw),
		Status:     models.WebhookStatusReceived,
	}
}

func (h *NotificationHandler) finish(ctx context.Context, event *models.WebhookEvent, out *Outcome, err error) {
	result := map[string]any{"outcome": out}
	if err != nil {
		result["error"] = err.Error()
	}
	raw, _ := json.Marshal(result)
	event.Finish(datatypes.JSON(raw), err, out.Ignored)
	h.events.Save(ctx, event)

	log := logctx.FromCtx(ctx, h.log).With("provider", event.ProviderID, "transaction_id", event.TransactionID, "status", event.Status)
	if err != nil {
		log.Errorw("webhook handling failed", "error", err)
		return
	}
	log.Infow("webhook handled", "user_id", out.UserID, "reason", out.Reason)
}
