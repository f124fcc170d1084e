package http

import (
	"net/http"

	"taskrunner/internal/dto"
	"taskrunner/internal/model"
	"taskrunner/internal/service"

	"github.com/labstack/echo/v4"
)

func (h *HttpAPIHandler) SetupTasks(base *echo.Group) {
	tasks := base.Group("/v1/tasks")
	tasks.POST("", h.createTask)
	tasks.GET("", h.listTasks)
	tasks.GET("/:id", h.getTask)
}

func (h *HttpAPIHandler) createTask(c echo.Context) error {
	owner, err := callerID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	if owner == nil {
		return h.respondError(c, model.NewValidationError(HeaderUserID, "header is required"))
	}

	req := new(dto.CreateTaskRequest)
	if err := h.bindAndValidate(c, req); err != nil {
		return h.respondError(c, err)
	}

	task, err := h.service.TaskService.CreateTask(c.Request().Context(), service.CreateTaskParam{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     *owner,
		Status:      model.TaskStatus(req.Status),
		IsPublic:    req.IsPublic,
		Tags:        req.Tags,
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.NewBaseResponse(http.StatusCreated, "Task created", dto.NewTaskResponse(task, nil)))
}

func (h *HttpAPIHandler) listTasks(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return h.respondError(c, err)
	}

	tasks, err := h.service.TaskService.ListTasks(c.Request().Context(), model.GetTaskParam{VisibleTo: caller})
	if err != nil {
		return h.respondError(c, err)
	}
	resp := make([]dto.TaskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, dto.NewTaskResponse(&tasks[i], nil))
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", resp))
}

func (h *HttpAPIHandler) getTask(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	detail, err := h.service.TaskService.GetTask(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.NewTaskResponse(detail.Task, detail.ActiveVersion)))
}
