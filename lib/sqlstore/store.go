package sqlstore

import (
	"context"

	"github.com/pthm/hxlive/lib/encoding"
)

// Get loads a row as a model. Together with Create and Update it lets a
// Table serve as a component model store.
func (t *Table[T]) Get(ctx context.Context, pk any) (encoding.Model, error) {
	row, err := t.Find(ctx, pk)
	if err != nil {
		return nil, err
	}
	return any(row).(encoding.Model), nil
}

// Create inserts a row and returns it as a model.
func (t *Table[T]) Create(ctx context.Context, fields map[string]any) (encoding.Model, error) {
	row, err := t.Insert(ctx, fields)
	if err != nil {
		return nil, err
	}
	return any(row).(encoding.Model), nil
}

// Update saves fields on an existing row and returns it as a model.
func (t *Table[T]) Update(ctx context.Context, pk any, fields map[string]any) (encoding.Model, error) {
	row, err := t.Save(ctx, pk, fields)
	if err != nil {
		return nil, err
	}
	return any(row).(encoding.Model), nil
}
