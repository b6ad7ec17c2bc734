// Command example serves the demo components through the Echo adapter
// with a SQLite todo table.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/labstack/echo/v4"
	hxliveecho "github.com/pthm/hxlive/adapters/echo"
	"github.com/pthm/hxlive/example/components"
	"github.com/pthm/hxlive/lib/sqlstore"
	_ "modernc.org/sqlite"
)

func main() {
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:example.db")
	if err != nil {
		log.G(ctx).WithError(err).Fatal("open database")
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	todos, err := components.OpenTodos(ctx, db, sqlstore.SQLite)
	if err != nil {
		log.G(ctx).WithError(err).Fatal("open todos")
	}

	// In production, load a real secret.
	key := []byte(os.Getenv("HXLIVE_SECRET"))
	if len(key) == 0 {
		key = []byte("example-key-must-be-32-bytes!!!!")
	}

	e := echo.New()
	reg := hxliveecho.Mount(e, hxliveecho.WithKey(key))
	components.Register(reg, todos)

	for path, name := range map[string]string{
		"/":        "counter",
		"/todos":   "todo-list",
		"/profile": "profile",
	} {
		e.GET(path, func(c echo.Context) error {
			return hxliveecho.View(c, reg, name, nil)
		})
	}

	addr := ":8080"
	fmt.Printf("Starting server at http://localhost%s\n", addr)
	if err := e.Start(addr); err != nil {
		log.G(ctx).WithError(err).Fatal("server stopped")
	}
}
