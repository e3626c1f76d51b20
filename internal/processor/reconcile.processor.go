package processor

import (
	"context"
	"fmt"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/queue"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/prom"
)

type ReconciliationStore interface {
	Record(ctx context.Context, f model.FailedCredit) (*model.ReconciliationItem, error)
	CountOpen(ctx context.Context) (map[string]int64, error)
}

// ReconciliationProcessor persists failed credits published by the payment flows.
type ReconciliationProcessor struct {
	store ReconciliationStore
}

func NewReconciliationProcessor(store ReconciliationStore) *ReconciliationProcessor {
	return &ReconciliationProcessor{store: store}
}

func (p *ReconciliationProcessor) GetType() string {
	return "reconciliation"
}

// Process records the failed credit. Undecodable or invalid payloads are acked and dropped
// since redelivery cannot fix them.
func (p *ReconciliationProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var failed model.FailedCredit
	if err := msg.Decode(&failed); err != nil {
		logger.Error("[reconciler] undecodable message dropped", "message_id", msg.ID, "error", err)
		return nil
	}
	if err := failed.Validate(); err != nil {
		logger.Error("[reconciler] invalid failed credit dropped", "message_id", msg.ID, "provider", failed.Provider, "external_id", failed.ExternalID, "error", err)
		return nil
	}

	item, err := p.store.Record(ctx, failed)
	if err != nil {
		return fmt.Errorf("record %s:%s: %w", failed.Provider, failed.ExternalID, err)
	}

	prom.IncReconciliationRecorded(failed.Provider)
	logger.Warn("[reconciler] payment needs manual reconciliation",
		"id", item.ID,
		"provider", item.Provider,
		"external_id", item.ExternalID,
		"user_id", item.UserID,
		"credits", item.Credits,
		"attempts", item.Attempts,
		"reason", item.Reason,
	)
	return nil
}

// Report publishes the open item count per provider.
func (p *ReconciliationProcessor) Report(ctx context.Context) {
	counts, err := p.store.CountOpen(ctx)
	if err != nil {
		logger.Error("[reconciler] count open items failed", "error", err)
		return
	}

	var total int64
	for _, provider := range []string{model.ProviderPayPal, model.ProviderCreem} {
		prom.SetReconciliationOpen(counts[provider], provider)
		total += counts[provider]
	}
	if total > 0 {
		logger.Warn("[reconciler] open reconciliation items", "total", total, "paypal", counts[model.ProviderPayPal], "creem", counts[model.ProviderCreem])
	} else {
		logger.Info("[reconciler] no open reconciliation items")
	}
}
