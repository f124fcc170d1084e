package http

import (
	"io"
	"net/http"

	"taskrunner/internal/dto"
	"taskrunner/internal/model"
	"taskrunner/internal/service"

	"github.com/labstack/echo/v4"
)

func (h *HttpAPIHandler) SetupVersions(base *echo.Group) {
	v1 := base.Group("/v1")
	v1.POST("/tasks/:id/versions", h.uploadVersion)
	v1.GET("/tasks/:id/versions", h.listVersions)
	v1.GET("/versions/:id", h.getVersion)
	v1.POST("/versions/:id/activate", h.activateVersion)
}

func (h *HttpAPIHandler) uploadVersion(c echo.Context) error {
	taskID, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}

	req := new(dto.UploadVersionRequest)
	if err := h.bindAndValidate(c, req); err != nil {
		return h.respondError(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return h.respondError(c, model.NewValidationError("file", "no file provided"))
	}
	src, err := file.Open()
	if err != nil {
		return h.respondError(c, err)
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		return h.respondError(c, err)
	}

	param := service.CreateVersionParam{
		TaskID:     taskID,
		FileName:   file.Filename,
		Content:    content,
		ChangeNote: req.ChangeNote,
		Status:     model.VersionStatus(req.Status),
	}
	if form, err := c.MultipartForm(); err == nil {
		if _, ok := form.Value["requirements"]; ok {
			param.Requirements = &req.Requirements
		}
	}

	version, err := h.service.VersionService.Create(c.Request().Context(), param)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.NewBaseResponse(http.StatusCreated, "Version created", dto.NewVersionResponse(version)))
}

func (h *HttpAPIHandler) listVersions(c echo.Context) error {
	taskID, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	versions, err := h.service.VersionService.List(c.Request().Context(), taskID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.NewVersionListResponse(versions)))
}

func (h *HttpAPIHandler) getVersion(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	version, err := h.service.VersionService.Get(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("OK", dto.NewVersionResponse(version)))
}

func (h *HttpAPIHandler) activateVersion(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	version, err := h.service.VersionService.Activate(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Version activated", dto.NewVersionResponse(version)))
}
