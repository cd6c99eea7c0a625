package rbac

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/halldesk/halldesk/pkg/observability"
)

// WatchVocabularyFile reloads the vocabulary file whenever it changes and
// hands the parsed result to onReload. The parent directory is watched
// rather than the file itself so atomic rename-in-place updates, the way
// config management tools write files, are picked up too. A file that
// fails to parse is logged and skipped, keeping the last good vocabulary.
//
// The watch runs until ctx is cancelled.
func WatchVocabularyFile(ctx context.Context, path string, logger *observability.Logger, onReload func(*Vocabulary)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	log := logger.Named("vocabulary_watch").WithField("file", path)
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}

				vocab, err := LoadVocabularyFile(path)
				if err != nil {
					log.WithError(err).Warn("vocabulary reload failed, keeping previous version")
					continue
				}
				onReload(vocab)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("vocabulary watch error")
			}
		}
	}()

	return nil
}
