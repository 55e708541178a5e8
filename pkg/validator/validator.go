package validator

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// phonePattern accepts E.164-style numbers: optional +, 7 to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// RegisterCustom installs domain validations on gin's binding validator.
// Tags registered:
//   - phone: E.164-style phone number
//   - accessreason: free-text justification long enough to audit (>= 10 chars)
func RegisterCustom() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}

	return v.RegisterValidation("accessreason", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) >= 10
	})
}

// IsPhone reports whether s looks like a phone identifier rather than an email.
func IsPhone(s string) bool {
	return phonePattern.MatchString(s)
}
