// Package acquirer implements two-phase repository content acquisition.
//
// A metadata-only scan walks the repository tree and records which paths
// hold documentation-style content. Eligible files are then turned into
// queue.FileDescriptor values, optionally re-ranked and trimmed, and
// downloaded in small batches on a bounded worker pool.
//
// Two scan strategies share one Filter:
//
//	Structured     full tree scan, nested listing failures are skipped
//	RecursiveWalk  descends only into relevant subtrees, any failure is fatal
//
// FetchRelevantContent uses Structured and falls back to RecursiveWalk when
// the structured scan reports a *errors.ScanError.
package acquirer
