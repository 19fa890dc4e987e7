package watcher

import (
	"context"
	"os"
	"time"
)

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// polledFile is one file on disk and the watched path its changes are
// reported against. They differ for SQLite side files.
type polledFile struct {
	report string
	state  fileState
}

// poller compares file metadata every interval.
type poller struct {
	interval time.Duration
	files    map[string]*polledFile
}

// newPoller polls targets, keyed by on-disk path, valued by the watched
// path to report.
func newPoller(targets map[string]string, interval time.Duration) *poller {
	p := &poller{interval: interval, files: make(map[string]*polledFile, len(targets))}
	for path, report := range targets {
		p.files[path] = &polledFile{report: report, state: statFile(path)}
	}
	return p
}

// detect returns events for files whose metadata changed since the last
// call. Side-file changes of any kind become one modify of their database.
func (p *poller) detect(now time.Time) []FileEvent {
	var events []FileEvent
	sideChanged := make(map[string]bool)
	for path, f := range p.files {
		cur := statFile(path)
		prev := f.state
		f.state = cur

		var op Operation
		switch {
		case !prev.exists && cur.exists:
			op = OpCreate
		case prev.exists && !cur.exists:
			op = OpDelete
		case cur.exists && (!cur.modTime.Equal(prev.modTime) || cur.size != prev.size):
			op = OpModify
		default:
			continue
		}
		if path != f.report {
			sideChanged[f.report] = true
			continue
		}
		events = append(events, FileEvent{Path: f.report, Operation: op, Timestamp: now})
	}
	for report := range sideChanged {
		events = append(events, FileEvent{Path: report, Operation: OpModify, Timestamp: now})
	}
	return events
}

func (p *poller) run(ctx context.Context, emit func(FileEvent)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, ev := range p.detect(now) {
				emit(ev)
			}
		}
	}
}
