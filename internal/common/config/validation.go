package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var validate = validator.New()

// ValidateStruct runs the struct's `validate` tags and logs a readable line for every field that fails.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err != nil {
		LogValidationErrors(err)
		return errors.WithMessage(err, "invalid configuration")
	}
	return nil
}

func LogValidationErrors(err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		log.Errorf("ConfigError: %v", err)
		return
	}
	for _, err := range validationErrors {
		fieldName := stripPrefix(err.Namespace())
		switch err.Tag() {
		case "required":
			log.Errorf("ConfigError: Field %s is required but was not found", fieldName)
		case "oneof":
			log.Errorf("ConfigError: Field %s has value %v but must be one of [%s]", fieldName, err.Value(), err.Param())
		case "min", "gt", "gte":
			log.Errorf("ConfigError: Field %s has value %v but must be at least %s", fieldName, err.Value(), err.Param())
		default:
			log.Errorf("ConfigError: Field %s has invalid value %v: %s", fieldName, err.Value(), err.Tag())
		}
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
