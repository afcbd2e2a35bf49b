package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// errorMessages maps validation tags to custom error messages.
var errorMessages = map[string]string{
	"required": "The field '%s' is required.",
	"min":      "The field '%s' must be at least %s.",
	"max":      "The field '%s' must be no more than %s.",
	"lte":      "The field '%s' must be less than or equal to %s.",
	"gte":      "The field '%s' must be greater than or equal to %s.",
	"gt":       "The field '%s' must be greater than %s.",
	"lt":       "The field '%s' must be less than %s.",
	"oneof":    "The field '%s' must be one of %s.",
	"dir":      "The field '%s' must be an existing directory.",
	"file":     "The field '%s' must be an existing file.",
}

// parseMessage constructs a friendly error message based on the validation tag.
func parseMessage(jsonTag string, e validator.FieldError) string {
	if msg, exists := errorMessages[e.Tag()]; exists {
		placeholderCount := strings.Count(msg, "%s")
		if placeholderCount == 1 {
			return fmt.Sprintf(msg, jsonTag)
		} else if placeholderCount == 2 {
			return fmt.Sprintf(msg, jsonTag, e.Param())
		}
	}
	return fmt.Sprintf("Field '%s' is invalid: %s", jsonTag, e.Tag())
}

// ValidateStruct validates a struct and returns a map of JSON field names to friendly error messages.
func ValidateStruct(s any) map[string]string {
	validationErrors := make(map[string]string)

	err := validate.Struct(s)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			structType := reflect.TypeOf(s)
			if structType.Kind() == reflect.Ptr {
				structType = structType.Elem()
			}
			for _, e := range validationErrs {
				field, _ := structType.FieldByName(e.StructField())
				jsonTag := field.Tag.Get("json")
				if jsonTag == "" {
					jsonTag = e.StructField()
				} else {
					jsonTag = strings.Split(jsonTag, ",")[0]
				}
				validationErrors[jsonTag] = parseMessage(jsonTag, e)
			}
		}
	}

	return validationErrors
}

// ValidateStructErr validates a struct and flattens the failures into a single error.
func ValidateStructErr(s any) error {
	failures := ValidateStruct(s)
	if len(failures) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failures))
	for field, msg := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}
