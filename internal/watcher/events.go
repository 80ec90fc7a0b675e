package watcher

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// Change is the settled state of the watched file after a burst of events.
type Change struct {
	Op   Op
	Path string
	At   time.Time
}

// Gone reports whether the file no longer exists under its name.
func (c Change) Gone() bool {
	return c.Op == OpRemove || c.Op == OpRename
}

// scratchSuffixes mark editor swap and backup files next to the watched one.
var scratchSuffixes = []string{".tmp", ".swp", "~"}

func isScratch(name string) bool {
	for _, s := range scratchSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func opOf(ev fsnotify.Event) (Op, bool) {
	switch {
	case ev.Has(fsnotify.Remove):
		return OpRemove, true
	case ev.Has(fsnotify.Rename):
		return OpRename, true
	case ev.Has(fsnotify.Create):
		return OpCreate, true
	case ev.Has(fsnotify.Write):
		return OpWrite, true
	}
	return "", false
}
