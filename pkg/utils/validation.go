// Package utils holds small helpers shared by the HTTP layer and config.
package utils

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,40}$`)
	whitespace      = regexp.MustCompile(`\s+`)
)

const usernameHint = "Must be 1-40 characters of a-z, 0-9, '_' or '-'"

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report json (or mapstructure) names instead of Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "mapstructure"} {
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

		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("wishid", func(fl validator.FieldLevel) bool {
			return valueobjects.ValidateWishID(fl.Field().String()) == nil
		})
	})
	return validate
}

// ValidateStruct validates s and converts failures into a validation AppError
// whose details map each field to the rule it broke.
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.NewValidationError(err.Error())
	}

	details := make(map[string]interface{}, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = message(fe)
		fields = append(fields, fe.Field())
	}
	return pkgerrors.NewValidationError(fmt.Sprintf("invalid %s", strings.Join(fields, ", "))).
		WithDetails(details)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return "Must be a valid URL"
	case "username":
		return usernameHint
	case "wishid":
		return "Must be a UUID"
	default:
		return fmt.Sprintf("Failed %s validation", fe.Tag())
	}
}

// NormalizeUsername lowercases and trims name and replaces runs of
// whitespace with a single '-'.
func NormalizeUsername(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// ParseUsername normalizes name and checks it is a valid namespace.
func ParseUsername(name string) (string, error) {
	u := NormalizeUsername(name)
	if !usernamePattern.MatchString(u) {
		return "", pkgerrors.NewValidationError("invalid username").
			WithDetails(map[string]interface{}{"username": usernameHint})
	}
	return u, nil
}
