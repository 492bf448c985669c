package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/occuhealth/occuhealth/internal/platform/auth"
)

// Handler serves attachment upload and download.
type Handler struct {
	store    Store
	uploader *Uploader
}

func NewHandler(store Store, uploader *Uploader) *Handler {
	return &Handler{store: store, uploader: uploader}
}

// RegisterRoutes mounts the attachment routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/attachments", auth.RequireRole(auth.ReadRoles...))
	read.GET("", h.handleList)
	read.GET("/:id", h.handleDownload)
	read.GET("/:id/metadata", h.handleMetadata)

	write := api.Group("/attachments", auth.RequireRole(auth.WriteRoles...))
	write.POST("", h.handleUpload)
	write.DELETE("/:id", h.handleDelete)
}

type uploadResponse struct {
	*Attachment
	URL string `json:"url"`
}

func (h *Handler) handleUpload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	url, att, err := h.uploader.Upload(c.Request().Context(), file.Filename, file.Header.Get("Content-Type"),
		c.FormValue("path_prefix"), auth.UserIDFromContext(c.Request().Context()), src)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, uploadResponse{Attachment: att, URL: url})
}

func (h *Handler) handleDownload(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) handleMetadata(c echo.Context) error {
	meta, err := h.store.Metadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, uploadResponse{Attachment: meta, URL: h.uploader.URL(meta.ID)})
}

func (h *Handler) handleList(c echo.Context) error {
	items, err := h.store.List(c.Request().Context(), c.QueryParam("path_prefix"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (h *Handler) handleDelete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrMissingFileName), errors.Is(err, ErrInvalidPath):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
