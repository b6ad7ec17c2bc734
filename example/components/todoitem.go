package components

import (
	"context"
	"errors"

	"github.com/a-h/templ"
	"github.com/pthm/hxlive"
	"github.com/pthm/hxlive/lib/sqlstore"
)

// TodoItem renders one row. Its title is edited in place through a dbInput
// on the "todo" model.
type TodoItem struct {
	hxlive.Base
	Todo *Todo `json:"todo"`

	todos *sqlstore.Table[Todo]
}

// Toggle flips the done flag and re-renders the list so its remaining
// count follows.
func (it *TodoItem) Toggle(ctx context.Context) error {
	if it.Todo == nil {
		return errors.New("todo item without a row")
	}
	row, err := it.todos.Save(ctx, it.Todo.ID, map[string]any{"done": !it.Todo.Done})
	if err != nil {
		return err
	}
	it.Todo = row
	if l, ok := it.Parent().(*TodoList); ok {
		l.ForceRender()
	}
	return nil
}

func (it *TodoItem) Render(context.Context) templ.Component {
	if it.Todo == nil {
		return html(`<li class="todo"></li>`)
	}
	class := "todo"
	if it.Todo.Done {
		class += " done"
	}
	return html(`<li class="%s"><input type="checkbox" live:click="toggle"%s><input live:db="todo" live:field="title" data-pk="%d" value="%s"></li>`,
		class, checked(it.Todo.Done), it.Todo.ID, templ.EscapeString(it.Todo.Title))
}

func checked(b bool) string {
	if b {
		return " checked"
	}
	return ""
}
