package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"momo-gateway/internal/config"
	"momo-gateway/internal/kafka"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
	"momo-gateway/internal/providers"
	"momo-gateway/internal/storage"
)

// Reconciler sweeps pending transactions whose webhook never arrived and
// settles them from the provider's status endpoint. Transactions pending
// past the expiry window are closed out as expired.
type Reconciler struct {
	store     storage.Store
	providers map[string]providers.Provider
	producer  *kafka.Producer
	log       *logger.Logger

	grace      time.Duration
	expiry     time.Duration
	batchLimit int
}

func NewReconciler(store storage.Store, provs map[string]providers.Provider, producer *kafka.Producer, cfg config.ReconcilerConfig, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		providers:  provs,
		producer:   producer,
		log:        log,
		grace:      cfg.GracePeriod,
		expiry:     cfg.ExpiryWindow,
		batchLimit: cfg.BatchLimit,
	}
}

// Run polls on the configured interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.LogProcess("RECONCILER", "Stopping reconciliation loop")
			return
		case <-ticker.C:
			checked, settled := r.Reconcile(ctx)
			if checked > 0 {
				r.log.LogProcess("RECONCILER", fmt.Sprintf("Checked %d pending transactions, settled %d", checked, settled))
			}
		}
	}
}

// Reconcile runs one sweep. A failure on one transaction never stops the
// rest of the batch.
func (r *Reconciler) Reconcile(ctx context.Context) (checked, settled int) {
	now := time.Now().UTC()
	pending, err := r.store.ListPendingBefore(now.Add(-r.grace), r.batchLimit)
	if err != nil {
		r.log.Error("RECONCILER", fmt.Sprintf("Failed to list pending transactions: %v", err))
		return 0, 0
	}

	for _, txn := range pending {
		checked++
		if r.reconcileOne(ctx, txn, now) {
			settled++
		}
	}
	return checked, settled
}

func (r *Reconciler) reconcileOne(ctx context.Context, txn *models.Transaction, now time.Time) bool {
	if txn.InitiatedAt.Before(now.Add(-r.expiry)) {
		return r.finalize(txn, models.StatusExpired, "expired after reconciliation window", "")
	}
	if txn.ProviderReference == "" {
		// Initiation never reached the provider; nothing to query until
		// the transaction ages into the expiry window.
		return false
	}

	provider, ok := r.providers[txn.Provider]
	if !ok {
		r.log.Warn("RECONCILER", fmt.Sprintf("No provider registered for %s transaction %s", txn.Provider, txn.ID))
		return false
	}

	status, err := provider.CheckStatus(ctx, txn.ProviderReference)
	if err != nil {
		r.log.Warn("RECONCILER", fmt.Sprintf("Status check for %s failed: %v", txn.ID, err))
		return false
	}
	if !status.IsTerminal() {
		return false
	}
	return r.finalize(txn, status, "settled by reconciler", "")
}

func (r *Reconciler) finalize(txn *models.Transaction, status models.TransactionStatus, detail, raw string) bool {
	reference := txn.ProviderReference
	if reference == "" {
		reference = txn.ID
	}

	updated, err := r.store.FinalizeTransaction(txn.Provider, reference, status, detail, raw)
	if err != nil {
		if errors.Is(err, storage.ErrTransactionFinal) {
			return false
		}
		r.log.Error("RECONCILER", fmt.Sprintf("Failed to finalize %s as %s: %v", txn.ID, status, err))
		return false
	}

	r.log.LogPayment("RECONCILE", updated.ID, fmt.Sprintf("Settled as %s", updated.Status))
	switch updated.Status {
	case models.StatusSuccessful:
		r.producer.PublishPaymentEvent(kafka.EventPaymentSuccess, updated)
	case models.StatusFailed:
		r.producer.PublishPaymentEvent(kafka.EventPaymentFailed, updated)
	case models.StatusExpired:
		r.producer.PublishPaymentEvent(kafka.EventPaymentExpired, updated)
	}
	return true
}
