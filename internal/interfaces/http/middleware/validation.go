package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/erp/exchange/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var setupValidatorOnce sync.Once

// SetupValidator makes validation errors name fields the way the client sent
// them: the form, uri or json key rather than the Go field name.
func SetupValidator() {
	setupValidatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(paramName)
	})
}

func paramName(fld reflect.StructField) string {
	for _, tag := range []string{"form", "uri", "json"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// FormatValidationErrors builds the 400 body. Errors that did not come from
// the validator (a non-numeric page, say) produce no field details.
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		details = make([]dto.ValidationDetail, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			details = append(details, dto.ValidationDetail{
				Field:   fe.Field(),
				Message: validationMessage(fe),
			})
		}
	}
	return dto.ValidationFailure(requestID, details)
}

// HandleValidationError aborts with the 400 validation body
func HandleValidationError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, FormatValidationErrors(err, c.GetString(RequestIDKey)))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Must be at least " + fe.Param()
	case "max":
		return "Must be at most " + fe.Param()
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + fe.Param()
	default:
		return "Invalid value"
	}
}
