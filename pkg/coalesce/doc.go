// Package coalesce merges delayed notifications that share a subject.
//
// Each subject with a pending window owns one time.AfterFunc timer. All
// changes to the pending set happen under a single mutex shared by callers
// of Schedule and by timer callbacks. A timer callback only flushes the
// entry it was armed for, so a window removed by FlushAll is never sent
// twice.
//
// Errors from timer flushes have no caller to return to. They go to the
// configured ErrorSink and are counted in Dropped. Nothing is retried.
package coalesce
