package validator

import (
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	dateOnlyRE  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockTimeRE = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// RegisterCustom installs the wire-format validators used in request
// bindings: "dateonly" (YYYY-MM-DD) and "clocktime" (HH:MM, 24h).
func RegisterCustom() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding validator engine %T", binding.Validator.Engine())
	}

	if err := v.RegisterValidation("dateonly", func(fl validator.FieldLevel) bool {
		return dateOnlyRE.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register dateonly validator: %w", err)
	}
	if err := v.RegisterValidation("clocktime", func(fl validator.FieldLevel) bool {
		return clockTimeRE.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register clocktime validator: %w", err)
	}
	return nil
}
