package records

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/occuhealth/occuhealth/internal/platform/auth"
	"github.com/occuhealth/occuhealth/internal/platform/blobstore"
	"github.com/occuhealth/occuhealth/pkg/pagination"
)

type Handler[T any] struct {
	svc *Service[T]
}

func NewHandler[T any](svc *Service[T]) *Handler[T] {
	return &Handler[T]{svc: svc}
}

func (h *Handler[T]) RegisterRoutes(api *echo.Group) {
	route := "/" + h.svc.def.Route

	read := api.Group(route, auth.RequireRole(auth.ReadRoles...))
	read.GET("", h.List)
	read.GET("/:id", h.Get)

	write := api.Group(route, auth.RequireRole(auth.WriteRoles...))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.PATCH("/:id", h.Update)
	write.DELETE("/:id", h.Delete)
	if len(h.svc.def.Attachments) > 0 {
		write.POST("/:id/attachments/:field", h.Attach)
	}
}

func (h *Handler[T]) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := make(map[string]string)
	for _, name := range h.svc.def.Filters {
		if v := c.QueryParam(name); v != "" {
			filters[name] = v
		}
	}
	items, total, err := h.svc.List(c.Request().Context(), filters, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler[T]) Get(c echo.Context) error {
	rec, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler[T]) Create(c echo.Context) error {
	rec := new(T)
	if err := c.Bind(rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := h.svc.Create(c.Request().Context(), rec)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler[T]) Update(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := h.svc.Update(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler[T]) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type attachResponse[T any] struct {
	URL    string `json:"url"`
	Record *T     `json:"record"`
}

func (h *Handler[T]) Attach(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer src.Close()

	ctx := c.Request().Context()
	rec, url, err := h.svc.Attach(ctx, c.Param("id"), c.Param("field"), fh.Filename,
		fh.Header.Get(echo.HeaderContentType), src, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, attachResponse[T]{URL: url, Record: rec})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAttachmentField), errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrAttachmentsOffline):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
