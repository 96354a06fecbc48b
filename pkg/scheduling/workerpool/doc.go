// Package workerpool runs fire-and-forget tasks on a fixed set of goroutines.
//
// It is used to take metric recording off the request path: the request
// handler submits a task and returns immediately, and a worker performs the
// store round-trips later.
//
//	pool, err := workerpool.New(workerpool.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer pool.Shutdown(ctx)
//
//	pool.TrySubmit(context.WithoutCancel(r.Context()), workerpool.TaskFunc(func(ctx context.Context) error {
//		return agg.RecordStart(ctx, endpoint)
//	}))
//
// TrySubmit never blocks. When the queue is full the task is dropped and
// counted in Stats; Config.OnDrop lets callers mirror the count elsewhere.
// Tasks that fail or panic are logged and counted, never propagated.
//
// Shutdown stops intake and drains whatever is already queued.
package workerpool
