// Package tasks keeps durable records of long-running acquisition runs so an
// interrupted run can be listed and resumed later.
//
// Every mutation is persisted before the call returns. Two stores are
// available:
//   - FileStore writes one JSON document per task, replaced atomically
//   - SQLiteStore keeps the same JSON document in a single tasks table
//
// Task files live under the platform data directory:
//   - Linux: ~/.local/share/docharvest/tasks/
//   - macOS: ~/Library/Application Support/docharvest/tasks/
//   - Windows: %APPDATA%/docharvest/tasks/
package tasks
