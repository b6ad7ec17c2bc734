package hxlive

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator/v10"
	"github.com/pthm/hxlive/lib/encoding"
)

// NonFieldErrors is the error key for failures not tied to one field.
const NonFieldErrors = "__all__"

// ValidationError is returned by component methods to report a user-facing
// validation failure. Code is required; Field defaults to NonFieldErrors.
//
//	if c.Quantity > c.Stock {
//	    return &hxlive.ValidationError{Field: "quantity", Code: "max", Message: "Not enough stock."}
//	}
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	field := e.Field
	if field == "" {
		field = NonFieldErrors
	}
	return fmt.Sprintf("%s: %s", field, e.Message)
}

// ValidationErrors reports several failures at once.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// applyValidationError records a validation failure returned by a method
// on c. It returns false when err carries no validation errors.
func applyValidationError(c Component, err error) (bool, error) {
	var list ValidationErrors
	var single *ValidationError
	switch {
	case errors.As(err, &list):
	case errors.As(err, &single):
		list = ValidationErrors{single}
	default:
		return false, nil
	}

	b := baseOf(c)
	for _, ve := range list {
		if ve.Code == "" {
			return true, fmt.Errorf("%w: %q", ErrMissingErrorCode, ve.Message)
		}
		field := ve.Field
		if field == "" {
			field = NonFieldErrors
		}
		b.AddError(field, ve.Code, ve.Message)
	}
	return true, nil
}

// Form validates component state.
type Form interface {
	// Validate returns the current errors keyed by field wire name.
	Validate(ctx context.Context, c Component) map[string][]FieldError
}

// Cleaner is optionally implemented by forms that normalize field values
// before assignment.
type Cleaner interface {
	Clean(field string, value any) (any, bool)
}

// Validate runs the attached form at most once per request and merges its
// result into c's errors.
//
// Existing errors on fields the form no longer rejects are removed. New
// errors are added only for names, or for every field when names is empty.
// An error the user has not yet provoked on an untouched field therefore
// stays hidden, while one already shown persists until it is fixed.
func Validate(ctx context.Context, c Component, names ...string) map[string][]FieldError {
	b := baseOf(c)
	if b.validateCalled {
		return b.Errors()
	}
	b.validateCalled = true

	fm, ok := c.(Former)
	if !ok || fm.Form() == nil {
		return b.Errors()
	}
	formErrors := fm.Form().Validate(ctx, c)

	current := b.Errors()
	for field := range current {
		if _, isField := b.def.byName[field]; !isField {
			continue
		}
		if errs, still := formErrors[field]; still {
			current[field] = errs
		} else {
			delete(current, field)
		}
	}

	scope := mapset.NewThreadUnsafeSet(names...)
	for field, errs := range formErrors {
		if scope.Cardinality() == 0 || scope.Contains(field) {
			current[field] = errs
		}
	}
	return current
}

// StructForm validates a component with go-playground/validator using its
// `validate` struct tags. Errors are keyed by the field's wire name and the
// code is the failing tag.
//
//	type Profile struct {
//	    hxlive.Base
//	    Email string `json:"email" validate:"required,email"`
//	}
//
//	func (p *Profile) Form() hxlive.Form { return profileForm }
//
//	var profileForm = hxlive.NewStructForm().WithCleaner("email", hxlive.TrimSpace)
type StructForm struct {
	validate *validator.Validate
	cleaners map[string]func(any) any
	messages map[string]string
}

// NewStructForm creates a form with a fresh validator instance.
func NewStructForm() *StructForm {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, skip := encoding.FieldName(f)
		if skip {
			return "-"
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &StructForm{
		validate: v,
		cleaners: make(map[string]func(any) any),
		messages: make(map[string]string),
	}
}

// Validator exposes the underlying validator for custom rules.
func (f *StructForm) Validator() *validator.Validate {
	return f.validate
}

// WithCleaner registers a cleaner for field.
func (f *StructForm) WithCleaner(field string, fn func(any) any) *StructForm {
	f.cleaners[field] = fn
	return f
}

// Message overrides the message for a validation tag.
func (f *StructForm) Message(tag, message string) *StructForm {
	f.messages[tag] = message
	return f
}

// Validate implements Form.
func (f *StructForm) Validate(ctx context.Context, c Component) map[string][]FieldError {
	out := make(map[string][]FieldError)
	err := f.validate.StructCtx(ctx, c)
	if err == nil {
		return out
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out[NonFieldErrors] = []FieldError{{Code: "invalid", Message: err.Error()}}
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = append(out[fe.Field()], FieldError{Code: fe.Tag(), Message: f.message(fe)})
	}
	return out
}

func (f *StructForm) message(fe validator.FieldError) string {
	if m, ok := f.messages[fe.Tag()]; ok {
		return m
	}
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "gte":
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "lte":
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	}
	return fmt.Sprintf("Failed the %q check.", fe.Tag())
}

// Clean implements Cleaner.
func (f *StructForm) Clean(field string, value any) (any, bool) {
	fn, ok := f.cleaners[field]
	if !ok {
		return nil, false
	}
	return fn(value), true
}

// TrimSpace is a cleaner that trims surrounding whitespace from strings.
func TrimSpace(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}
