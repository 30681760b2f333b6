package userdir

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

/*
 * Editors and provisioning scripts tend to replace the registry file
 * rather than write it in place, so the watch is on the containing
 * directory and events are filtered by name. Rewrites often arrive as
 * several events in a burst, hence the debounce.
 */
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the registry whenever the file changes on disk.
// The returned function stops the watcher.
func (d *Dir) Watch() (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create registry watcher")
	}
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(d.path))
	}
	go d.watchLoop(w)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			w.Close()
		})
	}
	return stop, nil
}

func (d *Dir) watchLoop(w *fsnotify.Watcher) {
	base := filepath.Base(d.path)
	var reloadTimer *time.Timer
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&fsnotify.Write != fsnotify.Write &&
				event.Op&fsnotify.Create != fsnotify.Create &&
				event.Op&fsnotify.Rename != fsnotify.Rename {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDebounce, func() {
				if err := d.Reload(); err != nil {
					log.Errorf("users: reload after change failed: %v", err)
					return
				}
				log.Infof("users: registry reloaded, %d users", d.Count())
			})
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Errorf("users: watcher error: %v", err)
		}
	}
}
