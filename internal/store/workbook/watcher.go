package workbook

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the workbook when its file changes on disk, so KPIs
// edited out-of-band in the spreadsheet show up without a restart. The
// parent directory is watched because spreadsheet editors save via
// rename-and-replace. Reloads are debounced: editors emit bursts of
// events per save.
func Watch(ctx context.Context, wb *Workbook, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(wb.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(wb.Path())
	logger.Info("workbook watcher started", slog.String("path", target))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(200 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("workbook watcher stopped")
			return nil

		case <-reloadCh:
			if err := wb.Reload(); err != nil {
				logger.Warn("workbook reload failed", slog.String("error", err.Error()))
			} else {
				logger.Info("workbook reloaded after external edit")
			}

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("workbook watcher error", slog.String("error", err.Error()))
		}
	}
}
