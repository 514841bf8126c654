package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/interfaces/http/dto"
)

// SetupValidator configures gin's validator: JSON names in errors, plus the
// entity_type and sync_direction tags.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	RegisterValidations(v)
}

// RegisterValidations installs the custom tags on v
func RegisterValidations(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})
	_ = v.RegisterValidation("entity_type", func(fl validator.FieldLevel) bool {
		_, err := ledgersync.ParseEntityType(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("sync_direction", func(fl validator.FieldLevel) bool {
		_, err := ledgersync.ParseDirections(fl.Field().String())
		return err == nil
	})
}

// FormatValidationErrors formats validation errors into a standard response
func FormatValidationErrors(err error, requestID string) dto.Response {
	resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeValidation, "Request validation failed", requestID)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			resp = resp.WithDetails(e.Field() + ": " + getValidationMessage(e))
		}
		return resp
	}
	return resp.WithDetails(err.Error())
}

// HandleValidationError returns a validation error response
func HandleValidationError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		if e.Type().Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Type().Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "entity_type":
		return "Must be one of: contacts, invoices, payments"
	case "sync_direction":
		return "Must be one of: pull, push, both"
	default:
		return "Invalid value"
	}
}
