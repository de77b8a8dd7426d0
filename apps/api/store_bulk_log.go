package main

import (
	"context"
	"encoding/json"
)

// storeRecordBulkOperation keeps an audit row for every submitted bulk operation.
func (a *App) storeRecordBulkOperation(ctx context.Context, result *BulkOperationResult) error {
	errs := result.Errors
	if errs == nil {
		errs = []bulkItemError{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO bulk_operation_log (operation_id, actor_email, action, total, successful, failed, skipped, errors, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (operation_id) DO NOTHING
	`, result.OperationID, result.Actor, string(result.Action), result.Total, result.Successful, result.Failed, result.Skipped, encoded, result.CompletedAt)
	return err
}
