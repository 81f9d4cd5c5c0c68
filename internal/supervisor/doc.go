// Package supervisor owns the backend process for the lifetime of the host.
//
// A Supervisor holds at most one backend handle and moves through three
// states:
//
//	NotStarted --Start(ok)--> Running --Stop()--> Stopped
//	NotStarted --Start(fail)--> NotStarted
//
// Stopped is terminal. A failed Start leaves the supervisor NotStarted so a
// later Start may retry, and never aborts the host: the error is logged,
// published to observers and returned for the caller to report.
//
// Stop takes the handle and clears it in the same critical section before
// sending one forceful termination request. It does not wait for the backend
// to exit and does not retry, so host shutdown latency stays bounded. A
// backend that already exited counts as stopped.
//
// Example usage:
//
//	sup := supervisor.New(process.New(), supervisor.WithLogger(logger))
//	if err := sup.Start(ctx, spec); err != nil {
//	    logger.Warn("backend unavailable", "error", err)
//	}
//	defer sup.Close()
package supervisor
