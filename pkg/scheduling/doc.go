/*
Package scheduling holds the background execution primitives of clusterflow.

The workerpool subpackage runs metric recording off the request path:

	pool, _ := workerpool.New(workerpool.DefaultConfig())
	defer pool.Shutdown(ctx)

	pool.TrySubmit(ctx, workerpool.TaskFunc(func(ctx context.Context) error {
		return agg.RecordStart(ctx, "GET /api/forum/topics")
	}))

TrySubmit never blocks. When the queue is full the task is dropped and
counted, so a slow store cannot back up request handling.
*/
package scheduling
