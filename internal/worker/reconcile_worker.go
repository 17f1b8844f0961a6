package worker

import (
	"context"
	"fmt"

	"saldo/internal/amqp"
	"saldo/internal/log"
	"saldo/internal/reconcile"
	"saldo/internal/services"
	"saldo/internal/sheets"
	"saldo/internal/storage"
)

// ReconcileWorker runs reconcile requests consumed from AMQP and mirrors the
// resulting summaries to a spreadsheet when an exporter is configured.
type ReconcileWorker struct {
	store    storage.Store
	engine   *reconcile.Engine
	exporter sheets.SummaryExporter
	logger   *log.Logger
}

// NewReconcileWorker creates a worker; exporter may be nil.
func NewReconcileWorker(store storage.Store, engine *reconcile.Engine, exporter sheets.SummaryExporter) *ReconcileWorker {
	return &ReconcileWorker{
		store:    store,
		engine:   engine,
		exporter: exporter,
		logger:   log.ForComponent(log.ComponentWorker),
	}
}

// HandleMessage processes a single reconcile message from AMQP. An error
// makes the consumer requeue the message; export failures do not.
func (w *ReconcileWorker) HandleMessage(ctx context.Context, msg *amqp.ReconcileMessage) error {
	w.logger.InfoContext(ctx, "Processing reconcile message",
		log.FieldUserID, msg.UserID,
		log.FieldAction, string(msg.Action),
		log.FieldMonths, msg.Months)

	res, err := services.RunReconcile(ctx, w.engine, msg)
	if err != nil {
		return fmt.Errorf("%s for %s: %w", msg.Action, msg.UserID, err)
	}

	if len(res.Months) > 0 {
		w.export(ctx, msg.UserID)
	}
	return nil
}

// ProcessPendingUsers snapshots every user. It backs up the queue in case
// messages were lost or published while the worker was down.
func (w *ReconcileWorker) ProcessPendingUsers(ctx context.Context) error {
	ids, err := w.store.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	processed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := w.engine.Snapshot(ctx, id)
		if err != nil {
			w.logger.ErrorContext(ctx, "Pending snapshot failed",
				log.FieldUserID, id,
				log.FieldError, err.Error())
			continue
		}
		if len(res.Months) == 0 {
			continue
		}
		processed++
		w.export(ctx, id)
	}

	if processed > 0 {
		w.logger.InfoContext(ctx, "Processed pending users", log.FieldCount, processed)
	}
	return nil
}

func (w *ReconcileWorker) export(ctx context.Context, userID string) {
	if w.exporter == nil {
		return
	}

	summaries, err := w.store.ListSummaries(ctx, userID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to load summaries for export", log.FieldUserID, userID, log.FieldError, err.Error())
		return
	}
	user, err := w.store.GetUser(ctx, userID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to load user for export", log.FieldUserID, userID, log.FieldError, err.Error())
		return
	}

	exp := sheets.SummaryExport{UserID: userID, Summaries: summaries, Lifetime: user}
	if err := w.exporter.ExportSummaries(ctx, exp); err != nil {
		w.logger.ErrorContext(ctx, "Failed to export summaries",
			log.FieldUserID, userID,
			log.FieldOperation, log.OpExport,
			log.FieldError, err.Error())
	}
}
