package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	testTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	actionPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	logLevels       = map[string]struct{}{"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {}}
	dbDrivers       = map[string]struct{}{"sqlite": {}, "mysql": {}}
	abortStatuses   = map[string]struct{}{"SKIPPED": {}, "FAIL": {}}
)

// validatorInstance configures and returns the shared validator. Field names in
// errors follow the yaml tag so messages match what users wrote.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return strings.ToLower(field.Name)
			}
			return name
		})

		_ = v.RegisterValidation("test_type", func(fl validator.FieldLevel) bool {
			return testTypePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("action", func(fl validator.FieldLevel) bool {
			return actionPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
			_, ok := logLevels[strings.ToLower(fl.Field().String())]
			return ok
		})

		_ = v.RegisterValidation("dbdriver", func(fl validator.FieldLevel) bool {
			_, ok := dbDrivers[fl.Field().String()]
			return ok
		})

		_ = v.RegisterValidation("abortstatus", func(fl validator.FieldLevel) bool {
			_, ok := abortStatuses[strings.ToUpper(fl.Field().String())]
			return ok
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the configured validator instance.
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// Struct validates s and converts the first failure into a ValidationError.
func Struct(s any) error {
	return ConvertError(validatorInstance().Struct(s))
}

// ConvertError maps validator output onto the typed ValidationError.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		ve := ves[0]
		field := fieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return testdeckerrors.NewValidationError(field, msg, err)
	}

	return testdeckerrors.NewValidationError("", err.Error(), err)
}

// fieldName drops the root struct name from the namespace.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}
