// Package validation holds the local, step-scoped validation error and the
// struct validator used to produce it.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid matches every *Error via errors.Is.
var ErrInvalid = errors.New("validation failed")

// Error reports one or more offending fields. It never carries upstream
// failures and is always recoverable by correcting input.
type Error struct {
	Fields map[string]string `json:"fields"`
	// Cause is an optional sentinel the failure also matches.
	Cause error `json:"-"`
}

// Field builds an Error for a single field.
func Field(name, msg string) *Error {
	return &Error{Fields: map[string]string{name: msg}}
}

// FieldCause builds an Error for name that also matches cause.
func FieldCause(name string, cause error) *Error {
	return &Error{Fields: map[string]string{name: cause.Error()}, Cause: cause}
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalid.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

func (e *Error) Unwrap() error { return e.Cause }

// Add records msg against name, keeping the first message per field.
func (e *Error) Add(name, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[name]; !ok {
		e.Fields[name] = msg
	}
}

// OrNil returns nil when no field was recorded.
func (e *Error) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their json names.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Struct runs the `validate` tags on v. The returned error is nil or *Error
// with fields prefixed by prefix (e.g. "patientInfo.").
func Struct(v any, prefix string) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %T: %w", v, err)
	}

	out := &Error{}
	for _, fe := range verrs {
		out.Add(prefix+fe.Field(), message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "numeric":
		return "must contain digits only"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "eq":
		if fe.Param() == "true" {
			return "must be accepted"
		}
		return "must equal " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
