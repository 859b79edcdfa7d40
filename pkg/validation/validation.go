// Package validation checks request payloads and reports failures per field.
package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Messages shared with callers that perform their own checks.
const (
	MsgRequired = "This field is required."
	MsgBlank    = "This field may not be blank."
	MsgInvalid  = "Invalid value."
)

// Error maps JSON field paths (e.g. "title", "tags[0].name") to messages.
type Error struct {
	Fields map[string][]string `json:"fields"`
}

// NewError returns an empty validation error.
func NewError() *Error {
	return &Error{Fields: make(map[string][]string)}
}

// Add records a message for field.
func (e *Error) Add(field, msg string) {
	e.Fields[field] = append(e.Fields[field], msg)
}

// Merge copies all messages from other into e.
func (e *Error) Merge(other *Error) {
	if other == nil {
		return
	}

	for field, msgs := range other.Fields {
		e.Fields[field] = append(e.Fields[field], msgs...)
	}
}

// Empty reports whether no messages were recorded.
func (e *Error) Empty() bool {
	return len(e.Fields) == 0
}

// Err returns e as an error, or nil when it is empty.
func (e *Error) Err() error {
	if e.Empty() {
		return nil
	}

	return e
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], " ")))
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		if name == "" {
			return fld.Name
		}

		return name
	})

	return v
}

// Struct validates s using its `validate` tags. It returns nil or a *Error.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validating: %w", err)
	}

	out := NewError()

	for _, fe := range fieldErrs {
		out.Add(fieldPath(fe), message(fe))
	}

	return out
}

// fieldPath strips the leading struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}

	return ns
}

func message(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String

	switch fe.Tag() {
	case "required":
		if isString {
			return MsgBlank
		}

		return MsgRequired
	case "email":
		return "Enter a valid email address."
	case "url":
		return "Enter a valid URL."
	case "max", "lte":
		if isString {
			return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
		}

		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	case "min", "gte":
		if isString {
			return fmt.Sprintf("Ensure this field has at least %s characters.", fe.Param())
		}

		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	default:
		return MsgInvalid
	}
}
