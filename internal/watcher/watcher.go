// Package watcher turns filesystem notifications for the monitored content
// roots into protocol change events pushed to every connected client.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/seoulengine/moriarty/internal/handler"
	"github.com/seoulengine/moriarty/internal/logutil"
	"github.com/seoulengine/moriarty/pkg/proto"
)

// Sink receives translated change events. Satisfied by server.Hub.
type Sink interface {
	BroadcastContentChange(ev proto.ContentChangeEvent)
}

const defaultRenameWindow = 500 * time.Millisecond

type Watcher struct {
	Resolver *handler.Resolver
	Sink     Sink

	// Ignore holds doublestar patterns matched against the slash-relative
	// path inside the serving root.
	Ignore []string

	// RenameWindow bounds how long a rename waits for its paired create.
	RenameWindow time.Duration

	Logger *slog.Logger

	fsw    *fsnotify.Watcher
	pairer renamePairer
}

// Run watches the monitored roots until ctx is done. Events for unknown file
// types and ignored paths are dropped before translation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher failed: %w", err)
	}
	defer fsw.Close()

	w.fsw = fsw
	w.pairer = renamePairer{window: w.renameWindow()}

	for _, mon := range w.Resolver.Monitored() {
		if err := w.addRecursive(mon.Root); err != nil {
			return fmt.Errorf("watch %s failed: %w", mon.Root, err)
		}

		w.logger().Info("Watching for content changes",
			logutil.StringerAttr("dir", mon.Directory), slog.String("root", mon.Root))
	}

	// fires only while a rename waits for its create
	expiry := time.NewTimer(w.renameWindow())
	if !expiry.Stop() {
		<-expiry.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expiry.C:
			if old := w.pairer.expire(time.Now()); old != "" {
				w.emit(proto.FileRemoved, old, old)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger().Warn("Watch error", logutil.ErrorAttr(err))
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, expiry)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, expiry *time.Timer) {
	if w.ignored(event.Name) {
		return
	}

	now := time.Now()

	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger().Warn("Watch new directory failed", logutil.ErrorAttr(err))
			}
		}

		old, paired := w.pairer.created(now)
		stopTimer(expiry)

		switch {
		case paired:
			w.emit(proto.FileRenamed, old, event.Name)
		case old != "":
			w.emit(proto.FileRemoved, old, old)
			w.emit(proto.FileAdded, event.Name, event.Name)
		default:
			w.emit(proto.FileAdded, event.Name, event.Name)
		}
	case event.Op.Has(fsnotify.Write):
		w.emit(proto.FileModified, event.Name, event.Name)
	case event.Op.Has(fsnotify.Remove):
		w.emit(proto.FileRemoved, event.Name, event.Name)
	case event.Op.Has(fsnotify.Rename):
		if old := w.pairer.renamed(event.Name, now); old != "" {
			w.emit(proto.FileRemoved, old, old)
		}
		resetTimer(expiry, w.renameWindow())
	}
	// Chmod is deliberately dropped
}

// emit translates local paths to FilePaths and broadcasts the event. Paths
// outside every serving root and files of unknown type are silently skipped;
// they cannot be expressed on the wire.
func (w *Watcher) emit(kind proto.FileEvent, oldPath, newPath string) {
	oldFP, oldOK := w.Resolver.FilePathFromLocal(oldPath)
	newFP, newOK := w.Resolver.FilePathFromLocal(newPath)
	if !oldOK || !newOK {
		return
	}

	ev := proto.ContentChangeEvent{
		Old:   oldFP,
		New:   newFP,
		Event: kind,
	}

	if kind != proto.FileRemoved {
		if info, err := os.Stat(newPath); err == nil && !info.IsDir() {
			ev.Size = uint64(info.Size())
			ev.ModifiedTime = uint64(info.ModTime().Unix())
		}
	}

	w.logger().Debug("Content change",
		logutil.StringerAttr("event", kind), logutil.StringerAttr("path", newFP))

	w.Sink.BroadcastContentChange(ev)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || w.ignored(path) {
			return nil
		}

		return w.fsw.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	if len(w.Ignore) == 0 {
		return false
	}

	rel := w.relativeToRoot(path)
	if rel == "" {
		return false
	}

	for _, pattern := range w.Ignore {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}

	return false
}

func (w *Watcher) relativeToRoot(path string) string {
	for _, mon := range w.Resolver.Monitored() {
		rel, err := filepath.Rel(mon.Root, path)
		if err != nil || rel == "." || !filepath.IsLocal(rel) {
			continue
		}

		return filepath.ToSlash(rel)
	}

	return ""
}

func (w *Watcher) renameWindow() time.Duration {
	if w.RenameWindow > 0 {
		return w.RenameWindow
	}

	return defaultRenameWindow
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}

	return slog.Default()
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
