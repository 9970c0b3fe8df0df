// Package validation wraps go-playground/validator for records that leave
// the process, such as publication events written to Kafka.
package validation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks struct tags plus a "channel" rule restricted to the
// configured channel names.
type Validator struct {
	validator *validator.Validate
}

// New builds a Validator. The channel rule accepts only the given names.
func New(channels ...string) *Validator {
	v := validator.New()
	allowed := slices.Clone(channels)
	_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
		return slices.Contains(allowed, fl.Field().String())
	})
	return &Validator{validator: v}
}

// Struct validates s and flattens field errors into one message.
func (v *Validator) Struct(s any) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validation failed: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, ", "))
}
