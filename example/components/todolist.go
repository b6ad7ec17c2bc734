package components

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/pthm/hxlive"
	"github.com/pthm/hxlive/lib/sqlstore"
)

// TodoList shows every todo as a TodoItem child and adds new ones.
type TodoList struct {
	hxlive.Base
	Title string `json:"title"`
	Draft string `json:"draft"`

	todos *sqlstore.Table[Todo]
}

// Mount loads the existing rows.
func (l *TodoList) Mount(ctx context.Context) error {
	rows, err := l.todos.All(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := l.item(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (l *TodoList) item(ctx context.Context, row *Todo) (*TodoItem, error) {
	return hxlive.Child(ctx, l, "todo-item", strconv.FormatInt(row.ID, 10), func(it *TodoItem) error {
		it.Todo = row
		return nil
	})
}

// Add inserts the drafted todo.
func (l *TodoList) Add(ctx context.Context) error {
	l.ClearErrors()
	title := strings.TrimSpace(l.Draft)
	if title == "" {
		l.AddError("draft", "required", "Enter a title.")
		return nil
	}
	row, err := l.todos.Insert(ctx, map[string]any{"title": title})
	if err != nil {
		return err
	}
	if _, err := l.item(ctx, row); err != nil {
		return err
	}
	l.Draft = ""
	hxlive.AddFlash(ctx, hxlive.FlashSuccess, "Todo added!")
	return nil
}

// Remaining counts the items not yet done.
func (l *TodoList) Remaining() int {
	n := 0
	for _, c := range l.Children() {
		if it, ok := c.(*TodoItem); ok && it.Todo != nil && !it.Todo.Done {
			n++
		}
	}
	return n
}

func (l *TodoList) Render(context.Context) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var items strings.Builder
		for _, c := range l.Children() {
			if err := hxlive.Embed(c).Render(ctx, &items); err != nil {
				return err
			}
		}
		draftErr := ""
		if errs := l.Errors()["draft"]; len(errs) > 0 {
			draftErr = `<p class="error">` + templ.EscapeString(errs[0].Message) + `</p>`
		}
		return html(`<section class="todos"><h2>%s</h2><ul>%s</ul><form live:submit.prevent="add"><input live:model.defer="draft" value="%s">%s<button>Add</button></form><p class="remaining" data-live-key="remaining">%d remaining</p></section>`,
			templ.EscapeString(l.Title), items.String(), templ.EscapeString(l.Draft), draftErr, l.Remaining()).Render(ctx, w)
	})
}
