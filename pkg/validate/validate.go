// Package validate wraps go-playground/validator with the domain enum tags
// and turns field errors into *errs.ValidationError keyed by json name.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/types"
)

var (
	once sync.Once
	v    *validator.Validate
)

// Validator returns the process-wide validator.
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		mustRegister("billing_cycle", func(fl validator.FieldLevel) bool {
			return types.BillingCycle(fl.Field().String()).Valid()
		})
		mustRegister("subscription_status", func(fl validator.FieldLevel) bool {
			return types.SubscriptionStatus(fl.Field().String()).Valid()
		})
		mustRegister("role", func(fl validator.FieldLevel) bool {
			return types.Role(fl.Field().String()).Valid()
		})
		mustRegister("plan", func(fl validator.FieldLevel) bool {
			return types.Plan(fl.Field().String()).Valid()
		})
	})
	return v
}

func mustRegister(tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validate: register %s: %v", tag, err))
	}
}

// Struct validates s. Field failures come back as *errs.ValidationError;
// anything else (a non-struct argument) is returned as is.
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &errs.ValidationError{}
	for _, fe := range fieldErrs {
		out.Add(fieldName(fe), message(fe))
	}
	return out
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt", "gte", "min":
		return "must be at least " + fe.Param()
	case "lt", "lte", "max":
		return "must be at most " + fe.Param()
	case "iso4217":
		return "must be an ISO-4217 currency code"
	case "url", "http_url":
		return "must be a valid URL"
	case "uuid", "uuid4", "uuid7":
		return "must be a UUID"
	case "billing_cycle", "subscription_status", "role", "plan", "oneof":
		return fmt.Sprintf("unsupported value %v", fe.Value())
	case "timezone":
		return "must be an IANA time zone"
	case "bcp47_language_tag":
		return "must be a language tag"
	}
	return "failed " + fe.Tag()
}
