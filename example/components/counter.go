package components

import (
	"context"

	"github.com/a-h/templ"
	"github.com/pthm/hxlive"
)

// Counter adds Step to Count on each increment.
type Counter struct {
	hxlive.Base
	Count int `json:"count"`
	Step  int `json:"step"`
}

// NewCounter creates a counter stepping by one.
func NewCounter() *Counter {
	return &Counter{Step: 1}
}

func (c *Counter) Render(context.Context) templ.Component {
	return html(`<div class="counter"><button live:click="decrement">-</button><span id="count">%d</span><button live:click="increment">+</button><input live:model="step" value="%d"></div>`,
		c.Count, c.Step)
}

func (c *Counter) Increment() {
	c.Count += c.Step
	if c.Count != 0 && c.Count%10 == 0 {
		c.Call("celebrate", c.Count)
	}
}

func (c *Counter) Decrement() { c.Count -= c.Step }

// Add adds amount and returns the new count.
func (c *Counter) Add(amount int) int {
	c.Count += amount
	return c.Count
}

func clampStep(_ context.Context, c *Counter, _ any) error {
	if c.Step < 1 {
		c.Step = 1
	}
	return nil
}
