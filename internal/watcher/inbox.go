package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/auth"
	"github.com/hyperjump/facegate/internal/config"
	"github.com/hyperjump/facegate/internal/models"
)

// Enroller registers an identity from raw image bytes.
type Enroller interface {
	Enroll(ctx context.Context, userID string, image []byte, metadata map[string]interface{}) (*models.Identity, error)
}

// Inbox enrolls every image file that appears in a directory, keyed by the file name stem.
// Enrollment failures are logged and never stop the inbox.
type Inbox struct {
	watcher  *Watcher
	enroller Enroller
	logger   *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewInbox creates an inbox for cfg.Directory.
func NewInbox(cfg config.InboxConfig, enroller Enroller, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Inbox{enroller: enroller, logger: logger, ctx: context.Background()}
	in.watcher = NewWatcher(cfg.Directory, cfg.Extensions, in.handleFile,
		WithLogger(logger), WithDebounce(cfg.Debounce))
	return in
}

// Start enrolls files already in the directory, then watches for new ones until ctx is done.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	in.ctx = ctx
	in.mu.Unlock()
	if err := in.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", in.watcher.Dir(), err)
	}
	in.logger.Info("inbox watching", zap.String("dir", in.watcher.Dir()))
	return in.watcher.SyncExisting()
}

// Stop stops watching.
func (in *Inbox) Stop() {
	in.watcher.Stop()
}

func (in *Inbox) handleFile(path string) {
	in.mu.Lock()
	ctx := in.ctx
	in.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	_ = in.EnrollFile(ctx, path)
}

// UserIDFromPath returns the identity key for an inbox file: its base name without extension.
func UserIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// EnrollFile enrolls the image at path under its file name stem.
func (in *Inbox) EnrollFile(ctx context.Context, path string) error {
	userID := UserIDFromPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		in.logger.Warn("inbox: failed to read file", zap.String("path", path), zap.Error(err))
		return err
	}
	meta := map[string]interface{}{"source": "inbox", "file": filepath.Base(path)}
	if _, err := in.enroller.Enroll(ctx, userID, data, meta); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			in.logger.Debug("inbox: already enrolled", zap.String("user_id", userID))
		} else {
			in.logger.Warn("inbox: enrollment failed", zap.String("path", path), zap.String("user_id", userID), zap.Error(err))
		}
		return err
	}
	in.logger.Info("inbox: enrolled", zap.String("user_id", userID), zap.String("path", path))
	return nil
}
