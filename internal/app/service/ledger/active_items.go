package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/types"
)

// ActiveItem is a store transaction placed on the user's entitlement timeline.
type ActiveItem struct {
	models.StoreTransaction
	// RemainingDurationSeconds shrinks when an auto-renewable purchase
	// pre-empts the item.
	RemainingDurationSeconds int64     `json:"remaining_duration_seconds"`
	ActivatedAt              time.Time `json:"activated_at"`
	ExpireAt                 time.Time `json:"expire_at"`
	// Entitlement is the plan the item grants, taken from its package.
	Entitlement types.Plan `json:"entitlement"`
}

// ActiveAt reports whether the item grants access at t.
func (i *ActiveItem) ActiveAt(t time.Time) bool {
	return !i.ActivatedAt.After(t) && i.ExpireAt.After(t)
}

func (i *ActiveItem) ToModel() *models.StoreActiveItem {
	if i == nil {
		return nil
	}
	return &models.StoreActiveItem{
		ID:                       i.ID,
		StoreTransactionID:       i.ID,
		PaymentItemID:            i.PaymentItemID,
		UserID:                   i.UserID,
		RemainingDurationSeconds: i.RemainingDurationSeconds,
		ActivatedAt:              i.ActivatedAt,
		ExpireAt:                 i.ExpireAt,
		NextAutoRenewAt:          i.NextAutoRenewAt,
	}
}

func byPurchaseAt(a, b *models.StoreTransaction) int {
	return a.PurchaseAt.Compare(b.PurchaseAt)
}

// appendNonRenewable queues the item after the current tail of the chain.
func appendNonRenewable(result []*ActiveItem, paymentItem *types.PaymentItem, item *ActiveItem, queryAt time.Time) ([]*ActiveItem, error) {
	if paymentItem.DurationHour == nil {
		return nil, fmt.Errorf("duration is nil for non renewable item %s", paymentItem.ID)
	}
	item.ActivatedAt = item.PurchaseAt
	item.RemainingDurationSeconds = *paymentItem.DurationHour * 60 * 60
	item.ExpireAt = item.ActivatedAt.Add(time.Duration(item.RemainingDurationSeconds) * time.Second)

	if len(result) > 0 {
		tail := result[len(result)-1]
		if item.PurchaseAt.Before(tail.ExpireAt) {
			item.ActivatedAt = tail.ExpireAt
			item.ExpireAt = item.ActivatedAt.Add(time.Duration(item.RemainingDurationSeconds) * time.Second)
		}
	}

	// refunded before its time ran out: it never happened
	if item.RefundAt != nil && item.ExpireAt.After(queryAt) {
		return result, nil
	}
	return append(result, item), nil
}

// insertAutoRenewable places the item at its purchase time and pushes every
// overlapping item back by the auto-renewable period.
func insertAutoRenewable(result []*ActiveItem, item *ActiveItem, queryAt time.Time) ([]*ActiveItem, error) {
	if item.AutoRenewExpireAt == nil {
		return nil, fmt.Errorf("auto renew expire at is nil for transaction %s", item.TransactionID)
	}
	if item.RefundAt != nil && item.AutoRenewExpireAt.After(queryAt) {
		return result, nil
	}

	item.ActivatedAt = item.PurchaseAt
	item.ExpireAt = *item.AutoRenewExpireAt
	item.RemainingDurationSeconds = int64(item.ExpireAt.Sub(item.PurchaseAt).Seconds())

	insertIndex := slices.IndexFunc(result, func(existing *ActiveItem) bool {
		return existing.ExpireAt.After(item.PurchaseAt)
	})
	if insertIndex == -1 {
		return append(result, item), nil
	}

	for index := insertIndex; index < len(result); index++ {
		if index == insertIndex {
			// the interrupted item keeps only what it had not consumed yet
			consumedFrom := result[index].ActivatedAt
			if item.PurchaseAt.After(consumedFrom) {
				consumedFrom = item.PurchaseAt
			}
			remaining := result[index].ExpireAt.Sub(consumedFrom)
			result[index].RemainingDurationSeconds = int64(remaining.Seconds())
			result[index].ActivatedAt = item.ExpireAt
			result[index].ExpireAt = result[index].ActivatedAt.Add(remaining)
			continue
		}
		result[index].ActivatedAt = result[index-1].ExpireAt
		result[index].ExpireAt = result[index].ActivatedAt.Add(time.Duration(result[index].RemainingDurationSeconds) * time.Second)
	}
	return slices.Insert(result, insertIndex, item), nil
}

// lastContiguousChain keeps the trailing run of back-to-back items and drops
// refunded items from its end.
func lastContiguousChain(items []*ActiveItem) []*ActiveItem {
	if len(items) == 0 {
		return items
	}
	start := 0
	for index := 1; index < len(items); index++ {
		if !items[index].ActivatedAt.Equal(items[index-1].ExpireAt) {
			start = index
		}
	}
	result := items[start:]

	last := len(result) - 1
	for last >= 0 && result[last].RefundAt != nil {
		last--
	}
	return result[:last+1]
}

// supersededBy maps transaction ids replaced by an upgrade that already
// happened at queryAt.
func supersededBy(txs []*models.StoreTransaction, queryAt time.Time) map[string]bool {
	out := map[string]bool{}
	for _, tx := range txs {
		if tx.BeforeUpgradedTransactionID != nil && !tx.PurchaseAt.After(queryAt) {
			out[*tx.BeforeUpgradedTransactionID] = true
		}
	}
	return out
}

// computeActiveItems lays the user's store transactions on a timeline and
// returns the chain that is current at queryAt.
func (s *Service) computeActiveItems(txs []*models.StoreTransaction, queryAt time.Time) ([]*ActiveItem, error) {
	if queryAt.IsZero() {
		return nil, fmt.Errorf("invalid queryAt: zero value")
	}
	if len(txs) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(txs, byPurchaseAt)
	superseded := supersededBy(txs, queryAt)

	var result []*ActiveItem
	for _, tx := range txs {
		if tx.PurchaseAt.After(queryAt) {
			break
		}
		if superseded[tx.TransactionID] {
			continue
		}

		paymentItem := tx.GetPaymentItemSnapshot()
		if paymentItem == nil {
			paymentItem = s.cfg.GetPaymentItemByID(tx.PaymentItemID)
			if paymentItem == nil {
				return nil, fmt.Errorf("failed to get payment item by id: %s", tx.PaymentItemID)
			}
		}

		entitlement := paymentItem.Entitlement
		if entitlement == "" {
			if current := s.cfg.GetPaymentItemByID(tx.PaymentItemID); current != nil {
				entitlement = current.Entitlement
			}
		}
		item := &ActiveItem{StoreTransaction: *tx, Entitlement: entitlement}
		var err error
		switch paymentItem.Type {
		case types.PaymentItemTypeNonRenewableSubscription:
			result, err = appendNonRenewable(result, paymentItem, item, queryAt)
		case types.PaymentItemTypeAutoRenewableSubscription:
			result, err = insertAutoRenewable(result, item, queryAt)
		default:
			return nil, fmt.Errorf("unsupported payment item type: %s", paymentItem.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to place transaction %s: %w", tx.TransactionID, err)
		}
	}
	return lastContiguousChain(result), nil
}
