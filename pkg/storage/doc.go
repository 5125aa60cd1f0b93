// Package storage writes downloaded repository content to disk.
//
// A Manager owns one root directory, normally the task cache. Files land at
// root/owner/repo/path and are written through a temporary file plus rename,
// so a crash never leaves a half-written file under its final name. A failed
// download leaves a "<file>.error" marker holding the cause instead.
//
// Usage:
//
//	store := storage.NewManager(cacheDir)
//	target, err := store.RepoPath("owner", "repo", "docs/guide.md")
//	if err != nil {
//	    return err
//	}
//	if _, err := store.Save(target, bytes.NewReader(data)); err != nil {
//	    _ = store.MarkFailed(target, err)
//	}
package storage
