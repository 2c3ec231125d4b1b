// Package validation wraps go-playground/validator with graphmem's custom
// rules and readable error messages. Both episode requests and the config
// file are checked through it.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Errors aggregates all failed rules for a struct.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator checks structs against their `validate` tags.
type Validator struct {
	validate *validator.Validate
}

var (
	instance *Validator
	once     sync.Once
)

// Get returns the shared validator.
func Get() *Validator {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates a validator with the custom rules registered.
func New() *Validator {
	v := &Validator{validate: validator.New()}

	// Report yaml/json names rather than Go field names.
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"json", "yaml"} {
			name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	_ = v.validate.RegisterValidation("groupid", groupIDValidator)
	return v
}

// Struct validates s and returns Errors when any rule fails.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := make(Errors, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, FieldError{
			Field:   e.Namespace(),
			Code:    strings.ToUpper(e.Tag()),
			Message: message(e.Tag(), e.Param()),
		})
	}
	return out
}

// Var validates a single value against a tag expression.
func (v *Validator) Var(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

func message(tag, param string) string {
	switch tag {
	case "required":
		return "This field is required"
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(param, " ", ", "))
	case "min":
		return fmt.Sprintf("Must be at least %s", param)
	case "max":
		return fmt.Sprintf("Must be at most %s", param)
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", param)
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", param)
	case "uuid":
		return "Must be a valid UUID"
	case "url":
		return "Must be a valid URL"
	case "hostname_port":
		return "Must be host:port"
	case "groupid":
		return "Must contain only letters, numbers, dashes, and underscores"
	case "required_if":
		return fmt.Sprintf("Required when %s", param)
	default:
		return fmt.Sprintf("Failed %s validation", tag)
	}
}

var groupIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func groupIDValidator(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return true
	}
	return groupIDPattern.MatchString(id) && len(id) <= 128
}
