package http

import (
	"net/http"

	"taskrunner/internal/dto"

	"github.com/labstack/echo/v4"
)

const defaultExecutionListLimit = 50

func (h *HttpAPIHandler) SetupExecutions(base *echo.Group) {
	v1 := base.Group("/v1")
	v1.POST("/tasks/:id/execute", h.executeTask)
	v1.GET("/tasks/:id/executions", h.listExecutions)

	executions := v1.Group("/executions")
	executions.GET("/:id", h.getExecution)
	executions.GET("/:id/status", h.executionStatus)
	executions.GET("/:id/logs", h.executionLogs)
	executions.GET("/:id/metrics", h.executionMetrics)
	executions.POST("/:id/cancel", h.cancelExecution)
}

func (h *HttpAPIHandler) executeTask(c echo.Context) error {
	taskID, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	caller, err := callerID(c)
	if err != nil {
		return h.respondError(c, err)
	}

	execution, err := h.service.ExecutionService.Execute(c.Request().Context(), taskID, caller)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, dto.NewBaseResponse(http.StatusAccepted, "Execution started", dto.NewExecutionResponse(execution)))
}

func (h *HttpAPIHandler) listExecutions(c echo.Context) error {
	taskID, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	req := new(dto.ListExecutionsRequest)
	if err := h.bindAndValidate(c, req); err != nil {
		return h.respondError(c, err)
	}
	if req.Limit == 0 {
		req.Limit = defaultExecutionListLimit
	}

	executions, err := h.service.ExecutionService.ListByTask(c.Request().Context(), taskID, req.Limit)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.NewExecutionListResponse(executions)))
}

func (h *HttpAPIHandler) getExecution(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	execution, err := h.service.ExecutionService.Get(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.NewExecutionResponse(execution)))
}

func (h *HttpAPIHandler) executionStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	report, err := h.service.ExecutionService.Status(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.ExecutionStatusResponse{
		ExecutionResponse: dto.NewExecutionResponse(report.Execution),
		Logs:              report.Execution.Logs,
		TaskStatus:        string(report.TaskStatus),
		CurrentResources:  report.CurrentResources,
	}))
}

func (h *HttpAPIHandler) executionLogs(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	logs, err := h.service.ExecutionService.Logs(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.ExecutionLogsResponse{
		ExecutionID: id,
		Logs:        logs,
	}))
}

func (h *HttpAPIHandler) executionMetrics(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	metrics, err := h.service.ExecutionService.Metrics(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.ExecutionMetricsResponse{
		ExecutionID: id,
		Metrics:     metrics,
	}))
}

func (h *HttpAPIHandler) cancelExecution(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	execution, err := h.service.ExecutionService.Cancel(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Execution cancelled", dto.NewExecutionResponse(execution)))
}
