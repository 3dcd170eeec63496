// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var addressPattern = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

func init() {
	validate = validator.New()
	validate.RegisterValidation("strong_password", validateStrongPassword)
	validate.RegisterValidation("ledger_address", validateLedgerAddress)
	validate.RegisterValidation("content_ref", validateContentRef)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateStrongPassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()

	if len(password) < 8 {
		return false
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	return hasUpper && hasLower && hasNumber && hasSpecial
}

func validateLedgerAddress(fl validator.FieldLevel) bool {
	return IsValidAddress(fl.Field().String())
}

// IsValidAddress reports whether s is a well-formed ledger address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

func validateContentRef(fl validator.FieldLevel) bool {
	return IsValidContentRef(fl.Field().String())
}

// IsValidContentRef checks the shape of an opaque content ref.
func IsValidContentRef(ref string) bool {
	return ref != "" && len(ref) <= 128 && !strings.ContainsAny(ref, " \t\n")
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "strong_password":
		return "Password must contain at least 8 characters with uppercase, lowercase, number, and special character"
	case "ledger_address":
		return e.Field() + " must be a 0x-prefixed 40-hex-digit address"
	case "content_ref":
		return e.Field() + " must be an opaque content reference"
	default:
		return e.Field() + " is invalid"
	}
}
