package ledgercore

import (
	"context"
	"fmt"

	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"cloud.google.com/go/cloudtasks/apiv2"
)

// SweepDispatcher drives expire_sweep() and the hourly usage-reconciliation
// sweep off Cloud Tasks instead of a bare ticker, so a sweep missed by a
// process restart is redelivered rather than silently lost (§4.4 Store
// binding).
type SweepDispatcher struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
}

// NewSweepDispatcher builds a dispatcher against the given fully-qualified
// queue path (projects/*/locations/*/queues/*).
func NewSweepDispatcher(client *cloudtasks.Client, queuePath, targetURL string) *SweepDispatcher {
	return &SweepDispatcher{client: client, queuePath: queuePath, targetURL: targetURL}
}

// ScheduleExpireSweep enqueues a one-shot HTTP task that hits the sweep
// endpoint; the queue's own retry/backoff policy covers redelivery.
func (d *SweepDispatcher) ScheduleExpireSweep(ctx context.Context) error {
	req := &taskspb.CreateTaskRequest{
		Parent: d.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        d.targetURL + "/internal/sweep/expire",
				},
			},
		},
	}
	if _, err := d.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("ledgercore: schedule expire sweep: %w", err)
	}
	return nil
}

// ScheduleUsageReconciliation enqueues the hourly usage-reconciliation sweep
// the Agent Gateway consumes (§4.5 "Usage reconciliation").
func (d *SweepDispatcher) ScheduleUsageReconciliation(ctx context.Context) error {
	req := &taskspb.CreateTaskRequest{
		Parent: d.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        d.targetURL + "/internal/sweep/reconcile",
				},
			},
		},
	}
	if _, err := d.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("ledgercore: schedule usage reconciliation: %w", err)
	}
	return nil
}
