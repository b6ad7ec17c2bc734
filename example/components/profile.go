package components

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
	"github.com/pthm/hxlive"
)

// Profile is a form validated field by field as the user types.
type Profile struct {
	hxlive.Base
	Name  string `json:"name" validate:"required,max=64"`
	Email string `json:"email" validate:"required,email"`
	Age   int    `json:"age" validate:"omitempty,gte=13,lte=130"`
	Bio   string `json:"bio"`
	Saved bool   `json:"saved"`
}

var profileForm = hxlive.NewStructForm().
	WithCleaner("name", hxlive.TrimSpace).
	WithCleaner("email", hxlive.TrimSpace).
	Message("gte", "You must be at least 13.")

func (p *Profile) Form() hxlive.Form { return profileForm }

// Save validates every field and records the profile when it is valid.
func (p *Profile) Save(ctx context.Context) {
	p.Saved = false
	if errs := hxlive.Validate(ctx, p); len(errs) > 0 {
		return
	}
	p.Saved = true
	hxlive.AddFlash(ctx, hxlive.FlashSuccess, "Profile saved.")
}

func (p *Profile) Render(context.Context) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<form class="profile" live:submit.prevent="save">`); err != nil {
			return err
		}
		for _, f := range []struct{ name, value string }{
			{"name", p.Name},
			{"email", p.Email},
			{"age", fmt.Sprint(p.Age)},
		} {
			if _, err := fmt.Fprintf(w, `<label>%s <input live:model.lazy="%s" value="%s"></label>%s`,
				f.name, f.name, templ.EscapeString(f.value), p.fieldError(f.name)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `<div class="bio">`); err != nil {
			return err
		}
		if err := hxlive.Text(p, "bio").Render(ctx, w); err != nil {
			return err
		}
		status := ""
		if p.Saved {
			status = `<p class="saved">Saved</p>`
		}
		_, err := fmt.Fprintf(w, `</div>%s<button>Save</button></form>`, status)
		return err
	})
}

func (p *Profile) fieldError(name string) string {
	errs := p.Errors()[name]
	if len(errs) == 0 {
		return ""
	}
	return fmt.Sprintf(`<p class="error" data-code="%s">%s</p>`, templ.EscapeString(errs[0].Code), templ.EscapeString(errs[0].Message))
}
