package http

import (
	"net/http"

	"taskrunner/internal/dto"

	"github.com/labstack/echo/v4"
)

func (h *HttpAPIHandler) SetupUsers(base *echo.Group) {
	users := base.Group("/v1/users")
	users.POST("", h.createUser)
}

func (h *HttpAPIHandler) createUser(c echo.Context) error {
	req := new(dto.CreateUserRequest)
	if err := h.bindAndValidate(c, req); err != nil {
		return h.respondError(c, err)
	}

	user, err := h.service.TaskService.CreateUser(c.Request().Context(), req.Username)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.NewBaseResponse(http.StatusCreated, "User created", user))
}
