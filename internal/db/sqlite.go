// Package db persists ordered collections for the control service in SQLite.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"drinky-board/internal/model"
)

// ErrNotFound is returned when an id does not exist in its collection.
var ErrNotFound = errors.New("db: item not found")

// DB wraps the sqlite connection.
type DB struct {
	ORM *gorm.DB
}

// Record is one stored item. Data holds every field the client sent plus
// the service-owned "created" stamp.
type Record struct {
	ID   string
	Data map[string]any
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	orm, err := openORM(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrateORM(orm); err != nil {
		_ = closeORM(orm)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{ORM: orm}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return closeORM(d.ORM) }

// List returns every item of collection in persisted order; items without
// a position sort last in insertion order.
func (d *DB) List(ctx context.Context, collection string) ([]Record, error) {
	var rows []model.StoredItem
	if err := d.ORM.WithContext(ctx).
		Scopes(inCollection(collection)).
		Order("position IS NULL, position, rowid").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		var data map[string]any
		if err := json.Unmarshal([]byte(r.Data), &data); err != nil {
			return nil, fmt.Errorf("item %s/%s: %w", collection, r.ID, err)
		}
		out = append(out, Record{ID: r.ID, Data: data})
	}
	return out, nil
}

// Insert stores data under a fresh id appended to the collection order.
func (d *DB) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	data = copyData(data)
	data["created"] = time.Now().Format(time.RFC3339)
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	row := model.StoredItem{Collection: collection, ID: uuid.NewString(), Data: string(raw)}
	err = d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int
		if err := tx.Model(&model.StoredItem{}).
			Scopes(inCollection(collection)).
			Select("COALESCE(MAX(position), -1) + 1").
			Scan(&next).Error; err != nil {
			return err
		}
		row.Position = &next
		return tx.Create(&row).Error
	})
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// find loads one row, or ErrNotFound.
func find(tx *gorm.DB, collection, id string) (model.StoredItem, error) {
	var rows []model.StoredItem
	if err := tx.Scopes(inCollection(collection, id)).Limit(1).Find(&rows).Error; err != nil {
		return model.StoredItem{}, err
	}
	if len(rows) == 0 {
		return model.StoredItem{}, ErrNotFound
	}
	return rows[0], nil
}

// Update replaces the fields of id, keeping its created stamp.
func (d *DB) Update(ctx context.Context, collection, id string, data map[string]any) error {
	return d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := find(tx, collection, id)
		if err != nil {
			return err
		}
		var existing map[string]any
		if err := json.Unmarshal([]byte(row.Data), &existing); err != nil {
			return fmt.Errorf("item %s/%s: %w", collection, id, err)
		}
		data = copyData(data)
		if created, ok := existing["created"]; ok {
			data["created"] = created
		}
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return tx.Model(&model.StoredItem{}).
			Scopes(inCollection(collection, id)).
			Update("data_json", string(b)).Error
	})
}

// Delete removes id, and with it its place in the order.
func (d *DB) Delete(ctx context.Context, collection, id string) error {
	res := d.ORM.WithContext(ctx).Scopes(inCollection(collection, id)).Delete(&model.StoredItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateExcept sets isActive to (item == id) across the collection and
// returns how many items it rewrote.
func (d *DB) DeactivateExcept(ctx context.Context, collection, id string) (int, error) {
	var n int64
	err := d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := find(tx, collection, id); err != nil {
			return err
		}
		res := tx.Model(&model.StoredItem{}).
			Scopes(inCollection(collection)).
			Update("data_json", gorm.Expr(
				"json_set(data_json, '$.isActive', json(CASE WHEN id = ? THEN 'true' ELSE 'false' END))", id))
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// SetOrder persists ids as the order of collection. Unknown ids are
// ignored; items not named lose their position and sort last.
func (d *DB) SetOrder(ctx context.Context, collection string, ids []string) error {
	return d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.StoredItem{}).
			Scopes(inCollection(collection)).
			Update("position", nil).Error; err != nil {
			return err
		}
		for i, id := range ids {
			if err := tx.Model(&model.StoredItem{}).
				Scopes(inCollection(collection, id)).
				Update("position", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func copyData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
