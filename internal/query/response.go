package query

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope of every HTTP reply.
type APIResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// AppError is an error with an HTTP status.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// toAppError maps service errors to HTTP errors.
func toAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ErrNotFound) {
		return &AppError{Code: "ERR_NOT_FOUND", Message: err.Error(), Status: http.StatusNotFound, Err: err}
	}
	return &AppError{Code: "ERR_INTERNAL", Message: "Something went wrong", Status: http.StatusInternalServerError, Err: err}
}

func dataResponse(c echo.Context, status int, data any) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func successResponse(c echo.Context, data any) error {
	return dataResponse(c, http.StatusOK, data)
}

func badRequestResponse(c echo.Context, data any) error {
	return dataResponse(c, http.StatusBadRequest, data)
}

func appErrorResponse(c echo.Context, err error) error {
	appErr := toAppError(err)
	return dataResponse(c, appErr.Status, []*AppError{appErr})
}

var validate = validator.New()

// readAndValidate binds path and query parameters into req, applies
// `default` tags and runs `validate` tags. It returns nil or the list of
// field errors.
func readAndValidate(c echo.Context, req any) []ValidationError {
	if err := c.Bind(req); err != nil {
		return validationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		out := make([]ValidationError, 0, len(ves))
		for _, fe := range ves {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
			})
		}
		return out
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: fmt.Sprintf("%v", he.Message)}}
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "timeframe":
		return fmt.Sprintf("%s must be a timeframe such as 15m or 4h", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
