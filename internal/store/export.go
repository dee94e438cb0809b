package store

import (
	"context"
	"io"

	"github.com/brian-mwirigi/codesession/internal/export"
)

// ExportSessions writes up to limit sessions (0 = all), newest first, in
// format f.
func (s *Store) ExportSessions(ctx context.Context, w io.Writer, f export.Format, limit int) error {
	r, err := export.RendererFor(f)
	if err != nil {
		return err
	}
	sessions, _, err := s.ListSessions(ctx, ListFilter{Limit: limit})
	if err != nil {
		return err
	}
	return r.Render(w, sessions)
}
