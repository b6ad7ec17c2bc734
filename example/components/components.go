// Package components holds the demo components served by hxlive serve and
// the example server: a counter, a todo list backed by SQL with one child
// component per row, and a validated profile form.
package components

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
	"github.com/pthm/hxlive"
	"github.com/pthm/hxlive/lib/sqlstore"
)

// Register adds every demo component to reg. todos backs the todo list and
// is registered as the "todo" model store.
func Register(reg *hxlive.Registry, todos *sqlstore.Table[Todo]) {
	def := hxlive.Register(reg, "counter", NewCounter).
		Action("increment", (*Counter).Increment).
		Action("decrement", (*Counter).Decrement).
		Action("add", (*Counter).Add, "amount")
	hxlive.OnUpdated(def, "step", clampStep)

	reg.RegisterModel("todo", &Todo{}, todos)
	hxlive.Register(reg, "todo-list", func() *TodoList { return &TodoList{todos: todos, Title: "Todo"} }).
		Action("add", (*TodoList).Add)
	hxlive.Register(reg, "todo-item", func() *TodoItem { return &TodoItem{todos: todos} }).
		Action("toggle", (*TodoItem).Toggle).
		Model("todo", "todo")

	hxlive.Register(reg, "profile", func() *Profile { return &Profile{} }).
		Action("save", (*Profile).Save).
		Safe("bio").
		Sensitive()
}

// html renders format with args, which must already be escaped.
func html(format string, args ...any) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, format, args...)
		return err
	})
}
