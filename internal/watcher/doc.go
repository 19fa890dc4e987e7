// Package watcher watches corpus files and triggers a debounced snapshot
// rebuild when they change.
//
// fsnotify is used when available; the parent directory of each watched
// file is registered so that atomic replace-by-rename and SQLite WAL
// writes are seen. Where fsnotify cannot be used (network mounts, some
// container volumes) the watcher falls back to polling file metadata.
//
// Usage:
//
//	w, err := watcher.New([]string{dbPath}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	go w.Run(ctx, watcher.ReloadSession(sess))
package watcher
