package checkin

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/elonfeng/swarm2sqlite/internal/store"
)

// desiredForeignKeys are declared once ingestion is done. The checkins
// table is usually created before users, events or stickers exist, and
// under NullOmit even venue and source may have been added by schema
// evolution instead of at create time.
var desiredForeignKeys = []store.ForeignKey{
	{Table: "checkins", Column: "venue", OtherTable: "venues", OtherColumn: "id"},
	{Table: "checkins", Column: "source", OtherTable: "sources", OtherColumn: "id"},
	{Table: "checkins", Column: "createdBy", OtherTable: "users", OtherColumn: "id"},
	{Table: "checkins", Column: "event", OtherTable: "events", OtherColumn: "id"},
	{Table: "checkins", Column: "sticker", OtherTable: "stickers", OtherColumn: "id"},
}

// Manager does the post-ingestion schema housekeeping.
type Manager struct {
	log *zap.Logger
}

// NewManager creates a manager. A nil logger discards output.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log}
}

// EnsureForeignKeys declares every desired foreign key that is missing.
// Keys whose table or column does not exist, because no record ever
// populated it, are skipped.
func (m *Manager) EnsureForeignKeys(ctx context.Context, st store.Store) error {
	tables, err := st.TableNames(ctx)
	if err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	existing := make(map[store.ForeignKey]bool)
	for _, t := range tables {
		fks, err := st.ForeignKeys(ctx, t)
		if err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		for _, fk := range fks {
			existing[fk] = true
		}
	}

	for _, fk := range desiredForeignKeys {
		if existing[fk] {
			continue
		}
		err := st.AddForeignKey(ctx, fk)
		if errors.Is(err, store.ErrAlter) {
			m.log.Debug("skip foreign key", zap.String("table", fk.Table), zap.String("column", fk.Column), zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		m.log.Info("added foreign key",
			zap.String("table", fk.Table), zap.String("column", fk.Column),
			zap.String("references", fk.OtherTable+"."+fk.OtherColumn))
	}
	return nil
}

// CreateViews creates the venue_details and checkin_details views. Views
// that already exist are left alone; a view that cannot be created is
// logged and skipped.
func (m *Manager) CreateViews(ctx context.Context, st store.Store) error {
	for _, v := range views {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := st.CreateView(ctx, v.name, v.query)
		switch {
		case err == nil:
			m.log.Info("created view", zap.String("view", v.name))
		case errors.Is(err, store.ErrViewExists):
		default:
			m.log.Warn("skip view", zap.String("view", v.name), zap.Error(err))
		}
	}
	return nil
}
