package handler // HTTP handlers for the auth and account endpoints

import (
	"errors"  // unwrap validation errors
	"fmt"     // message formatting
	"reflect" // json field names
	"strings" // tag parsing
	"unicode" // password strength rules

	"github.com/go-playground/validator/v10" // struct tag validation
	"github.com/labstack/echo/v4"            // Echo framework for HTTP routing

	"github.com/iliyamo/auth-session-service/internal/apperr" // typed request errors
)

const passwordSpecials = "@$!%*?&"

// Validator adapts go-playground/validator to echo.  Field names in error
// details use the json tag.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("strongpwd", func(fl validator.FieldLevel) bool {
		return StrongPassword(fl.Field().String())
	})
	return &Validator{v: v}
}

// StrongPassword requires at least eight characters drawn from letters,
// digits and @$!%*?&, with at least one of each class.
func StrongPassword(s string) bool {
	if len(s) < 8 {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return false
		}
	}
	return lower && upper && digit && special
}

func (cv *Validator) Validate(i any) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldMessage(fe))
	}
	return apperr.Validation("Validation failed", details...)
}

func fieldMessage(fe validator.FieldError) string {
	f := fe.Field()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "email":
		return f + " must be a valid email"
	case "url":
		return f + " must be a valid URL"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", f, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", f, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "eqfield":
		return "Password and confirmation must be the same."
	case "strongpwd":
		return "Password must contain uppercase letters, lowercase letters, numbers, and special characters."
	}
	return f + " is invalid"
}

// bind decodes the request into req and validates it.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("Invalid request body").Wrap(err)
	}
	return c.Validate(req)
}
