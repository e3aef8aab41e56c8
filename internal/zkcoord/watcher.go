package zkcoord

import (
	"context"
	"log/slog"
	"time"

	"github.com/hightoxicity/zkanycastd/internal/flags"
)

// Watcher maintains a persistent child-watch on the service directory by
// repeatedly re-arming gozk's one-shot ChildrenW, since the underlying
// client only exposes one-shot watches. Every notification, including
// the initial arm, sets Refresh; reading the child list itself is left
// to the control loop.
type Watcher struct {
	conn       zkConn
	serviceDir string
	flags      *flags.Flags
	log        *slog.Logger

	// retryDelay bounds the pause between re-arm attempts after a
	// transient ChildrenW error, so a flapping connection does not spin.
	retryDelay time.Duration
}

// NewWatcher returns a Watcher over serviceDir.
func NewWatcher(conn zkConn, serviceDir string, f *flags.Flags, log *slog.Logger) *Watcher {
	return &Watcher{conn: conn, serviceDir: serviceDir, flags: f, log: log, retryDelay: time.Second}
}

// Run installs the watch and re-arms it until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, _, ch, err := w.conn.ChildrenW(w.serviceDir)
		if err != nil {
			w.log.Error("failed to arm membership watch, retrying", "err", err, "path", w.serviceDir)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}

		w.flags.Refresh.Store(true)

		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			// The next loop iteration re-arms and sets Refresh again;
			// nothing further to do here.
		}
	}
}
