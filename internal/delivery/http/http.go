package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"taskrunner/internal/dto"
	"taskrunner/internal/model"
	"taskrunner/internal/service"
	"taskrunner/pkg/common"
	"taskrunner/pkg/logger"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// HeaderUserID identifies the calling user. Authentication happens upstream.
const HeaderUserID = common.HEADER_USER_ID

type HttpAPIHandler struct {
	echo      *echo.Echo
	validator *goValidator.Validate
	service   *service.Service
	log       *logger.Logger
}

func NewHttpAPIHandler(ctx context.Context, echo *echo.Echo, validator *goValidator.Validate, service *service.Service, log *logger.Logger) *HttpAPIHandler {
	return &HttpAPIHandler{
		echo:      echo,
		validator: validator,
		service:   service,
		log:       log,
	}
}

func (h *HttpAPIHandler) SetupRoutes() {
	base := h.echo.Group("/api")
	h.SetupUsers(base)
	h.SetupTasks(base)
	h.SetupVersions(base)
	h.SetupExecutions(base)
}

// respondError maps domain errors onto status codes.
func (h *HttpAPIHandler) respondError(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	message := "internal server error"

	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		code, message = http.StatusBadRequest, verr.Error()
	case errors.Is(err, model.ErrValidation):
		code, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrNotFound):
		code, message = http.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrNoActiveVersion):
		code, message = http.StatusPreconditionFailed, model.ErrNoActiveVersion.Error()
	case errors.Is(err, model.ErrInvalidState):
		code, message = http.StatusConflict, err.Error()
	case service.IsDispatchError(err):
		code, message = http.StatusServiceUnavailable, err.Error()
	}

	switch code {
	case http.StatusBadRequest:
		return c.JSON(code, dto.NewBadRequestResponse(message))
	case http.StatusInternalServerError:
		h.log.ErrorContext(c.Request().Context(), "Request failed",
			logger.StringField("path", c.Path()),
			logger.ErrorField(err),
		)
	}
	return c.JSON(code, dto.NewBaseResponse(code, message, nil))
}

func (h *HttpAPIHandler) bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return model.NewValidationError("", "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return model.NewValidationError("", err.Error())
	}
	return nil
}

func pathID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, model.NewValidationError(name, "must be a positive integer")
	}
	return uint(id), nil
}

// callerID returns the user from HeaderUserID, or nil when absent.
func callerID(c echo.Context) (*uint, error) {
	raw := c.Request().Header.Get(HeaderUserID)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return nil, model.NewValidationError(HeaderUserID, "must be a positive integer")
	}
	userID := uint(id)
	return &userID, nil
}
