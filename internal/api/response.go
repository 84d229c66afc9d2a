package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListDataResponse wraps list results.
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
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

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(status int, code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

func dataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func successResponse(c echo.Context, data interface{}) error {
	return dataResponse(c, http.StatusOK, data)
}

func listResponse(c echo.Context, rows interface{}, total int) error {
	return successResponse(c, &ListDataResponse{Rows: rows, Total: int64(total)})
}

func badRequestResponse(c echo.Context, data interface{}) error {
	return dataResponse(c, http.StatusBadRequest, data)
}

// appErrorResponse writes err with its status, or a 500 that hides the
// cause for anything else.
func appErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return dataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return dataResponse(c, http.StatusInternalServerError, "Something went wrong")
}
