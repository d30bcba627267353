// Package shutdown coordinates graceful termination of long-running
// commands.
//
// A Handler waits for SIGINT, SIGTERM, a programmatic Trigger or the end
// of a parent context, then runs registered hooks in reverse order under
// a deadline:
//
//	h := shutdown.NewHandler(5 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return srv.Shutdown(ctx) })
//	err := h.Wait(ctx)
package shutdown
