package daemon

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"

	"github.com/g960059/osrelay/internal/api"
	"github.com/g960059/osrelay/internal/model"
)

var codeStatus = map[string]int{
	model.CodeBadRequest:   http.StatusBadRequest,
	model.CodeUnauthorized: http.StatusUnauthorized,
	model.CodeForbidden:    http.StatusForbidden,
	model.CodeNotFound:     http.StatusNotFound,
	model.CodeInternal:     http.StatusInternalServerError,
}

var statusCode = map[int]string{
	http.StatusBadRequest:   model.CodeBadRequest,
	http.StatusUnauthorized: model.CodeUnauthorized,
	http.StatusForbidden:    model.CodeForbidden,
	http.StatusNotFound:     model.CodeNotFound,
}

type httpErrorHandler struct {
	logger log.Logger
}

func newHTTPErrorHandler(logger log.Logger) *httpErrorHandler {
	return &httpErrorHandler{logger: logger}
}

func (h *httpErrorHandler) Handle(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := h.resolve(err)
	if status >= http.StatusInternalServerError {
		level.Error(h.logger).Log("msg", "request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
	} else {
		level.Debug(h.logger).Log("msg", "request rejected", "method", c.Request().Method, "path", c.Path(), "code", body.Code, "err", err)
	}
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error:         body,
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		level.Error(h.logger).Log("msg", "write error response", "err", err)
	}
}

func (h *httpErrorHandler) resolve(err error) (int, api.APIError) {
	if e := model.AsError(err); e != nil {
		status, ok := codeStatus[e.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, api.APIError{Code: e.Code, Message: e.Message}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code, ok := statusCode[he.Code]
		if !ok {
			code = model.CodeInternal
			if he.Code < http.StatusInternalServerError {
				code = model.CodeBadRequest
			}
		}
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, api.APIError{Code: code, Message: msg}
	}
	return http.StatusInternalServerError, api.APIError{Code: model.CodeInternal, Message: "internal error"}
}

func badRequest(message string) error {
	return model.NewError(model.CodeBadRequest, message, nil)
}

func unauthorized(message string) error {
	return model.NewError(model.CodeUnauthorized, message, nil)
}

func forbidden(message string) error {
	return model.NewError(model.CodeForbidden, message, nil)
}

func notFound(message string) error {
	return model.NewError(model.CodeNotFound, message, nil)
}

func internal(message string, inner error) error {
	return model.NewError(model.CodeInternal, message, inner)
}
