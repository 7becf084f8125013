package dto

import (
	"errors"
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"herfrequency/internal/apperr"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	Retryable          = "RETRYABLE"
	Unauthenticated    = "UNAUTHENTICATED"
	Forbidden          = "FORBIDDEN"
	NotFound           = "NOT_FOUND"
	Conflict           = "CONFLICT"
	OriginNotAllowed   = "ORIGIN_NOT_ALLOWED"
	RateLimited        = "RATE_LIMITED"

	InternalError = "Service is currently unavailable. Please try again later."
)

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code  string `json:"code"`
	Desc  string `json:"desc"`
	Field string `json:"field,omitempty"`
}

func ErrorResponse(c *ginext.Context, status int, code, desc, field string) {
	c.JSON(status, Response{
		Status: "error",
		Error: &Error{
			Code:  code,
			Desc:  desc,
			Field: field,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc, "")
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError, "")
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	ErrorResponse(c, http.StatusBadRequest, FieldBadFormat, "Field '"+fieldName+"' has bad format", fieldName)
}

// WriteError renders err by its apperr kind. Upstream detail never reaches
// the body.
func WriteError(c *ginext.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		InternalServerError(c)
		return
	}
	switch ae.Kind {
	case apperr.KindValidation:
		ErrorResponse(c, http.StatusBadRequest, FieldIncorrect, ae.Message, ae.Field)
	case apperr.KindNotFound:
		ErrorResponse(c, http.StatusNotFound, NotFound, ae.Message, "")
	case apperr.KindUnauthenticated:
		ErrorResponse(c, http.StatusUnauthorized, Unauthenticated, ae.Message, "")
	case apperr.KindForbidden:
		ErrorResponse(c, http.StatusForbidden, Forbidden, ae.Message, "")
	case apperr.KindConflict:
		ErrorResponse(c, http.StatusConflict, Conflict, ae.Message, "")
	case apperr.KindUnavailable:
		c.Header("Retry-After", "1")
		ErrorResponse(c, http.StatusServiceUnavailable, Retryable, ae.Message, "")
	default:
		InternalServerError(c)
	}
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Status: "ok",
		Data:   data,
	})
}
