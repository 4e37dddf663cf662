package workspace

import (
	"context"
	"errors"
	"log/slog"
)

// Sync opens every document in storage. Files that fail to read or parse
// are logged and skipped.
func (s *Service) Sync(ctx context.Context) error {
	if s.store == nil {
		return errors.New("workspace: no storage configured")
	}
	metas, err := s.store.List("")
	if err != nil {
		return err
	}

	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Load(ctx, m.Path); err != nil {
			s.logger.Warn("sync: open failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		s.logger.Debug("sync: opened", slog.String("path", m.Path))
	}
	return nil
}
