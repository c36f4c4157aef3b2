package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tutor/loader/internal"
	"tutor/types"
)

// Digester is what the drop-folder service feeds files into.
type Digester interface {
	Digest(ctx context.Context, assistantID, locator string, label types.Label) (*types.Content, error)
}

// Service digests files dropped under <source>/<assistant-id>/<own|supported>/.
type Service struct {
	logger   *slog.Logger
	watcher  *internal.Watcher
	digester Digester
	workers  int
}

func New(watcher *internal.Watcher, digester Digester, workers int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		logger:   logger.With("component", "loader"),
		watcher:  watcher,
		digester: digester,
		workers:  workers,
	}
}

func (s *Service) Stop() {
	s.logger.Info("loader service stopped")
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.Start(ctx)
	s.logger.Info("received shutdown signal, shutting down gracefully")
	s.Stop()
}

// Start watches the drop folder and digests files until ctx is cancelled,
// then waits up to five seconds for in-flight files.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fileChan := make(chan internal.DropFile, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.watcher.WatchFile(ctx, fileChan)
	}()

	for range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range fileChan {
				s.Handle(ctx, f)
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all goroutines stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for goroutines to stop, forcing shutdown")
	}
}

// Handle digests one dropped file and archives it. A file whose content was
// saved but not fully indexed still goes to the archive.
func (s *Service) Handle(ctx context.Context, f internal.DropFile) {
	defer s.watcher.Done(f.Path)
	log := s.logger.With("path", f.Path, "assistant", f.AssistantID, "label", f.Label)

	state := internal.StateDone
	content, err := s.digester.Digest(ctx, f.AssistantID, f.Path, f.Label)
	var idxErr *types.IndexingError
	switch {
	case errors.As(err, &idxErr):
		log.Warn("content saved but not fully indexed", "content", idxErr.ContentID, "error", err)
	case err != nil && ctx.Err() != nil:
		// interrupted by shutdown, leave the file for the next run
		log.Warn("digest interrupted", "error", err)
		return
	case err != nil:
		log.Error("failed to digest file", "error", err)
		state = internal.StateBad
	default:
		log.Info("file digested", "content", content.ID, "digests", len(content.Digests))
	}

	if _, err := s.watcher.MoveToArchive(f.Path, state); err != nil {
		log.Error("failed to move file", "error", err)
	}
}
