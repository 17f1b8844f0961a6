package services

import (
	"context"
	"fmt"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/reconcile"
)

// RunReconcile executes one reconcile request against the engine. The ledger
// service uses it inline and the worker uses it for consumed messages.
func RunReconcile(ctx context.Context, engine *reconcile.Engine, msg *amqp.ReconcileMessage) (reconcile.Result, error) {
	if err := msg.Validate(); err != nil {
		return reconcile.Result{}, err
	}

	switch msg.Action {
	case amqp.ActionSnapshot:
		return engine.Snapshot(ctx, msg.UserID)
	case amqp.ActionRebuild:
		return engine.Rebuild(ctx, msg.UserID)
	case amqp.ActionResync:
		months := make([]core.MonthKey, 0, len(msg.Months))
		for _, m := range msg.Months {
			key, err := core.ParseMonthKey(m)
			if err != nil {
				return reconcile.Result{}, fmt.Errorf("resync %s: %w", msg.UserID, err)
			}
			months = append(months, key)
		}
		return engine.ResyncMonths(ctx, msg.UserID, months...)
	}
	return reconcile.Result{}, fmt.Errorf("unknown reconcile action %q", msg.Action)
}

func monthStrings(months []core.MonthKey) []string {
	out := make([]string, len(months))
	for i, m := range months {
		out[i] = string(m)
	}
	return out
}
