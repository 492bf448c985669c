package importer

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/occuhealth/occuhealth/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/imports", auth.RequireRole(auth.ReadRoles...))
	read.GET("", h.ListEntities)
	read.GET("/:entity/template", h.Template)
	read.GET("/:entity/export", h.Export)

	write := api.Group("/imports", auth.RequireRole(auth.WriteRoles...))
	write.POST("/:entity", h.Upload)
	write.GET("/:entity/pending/:id", h.GetPending)
	write.POST("/:entity/pending/:id/decision", h.Decide)
}

type fieldInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type entityInfo struct {
	Name       string      `json:"name"`
	Collection string      `json:"collection"`
	Fields     []fieldInfo `json:"fields"`
}

func (h *Handler) ListEntities(c echo.Context) error {
	all := h.svc.Registry().All()
	out := make([]entityInfo, 0, len(all))
	for _, e := range all {
		info := entityInfo{Name: e.Name, Collection: e.Collection, Fields: make([]fieldInfo, 0, len(e.Schema))}
		for _, f := range e.Schema {
			info.Fields = append(info.Fields, fieldInfo{Name: f.Name, Kind: f.Kind.String()})
		}
		out = append(out, info)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Upload(c echo.Context) error {
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
	sum, err := h.svc.Upload(ctx, c.Param("entity"), fh.Filename, src, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	if sum.Status == StatusAwaitingDecision {
		return c.JSON(http.StatusAccepted, sum)
	}
	return c.JSON(http.StatusCreated, sum)
}

func (h *Handler) GetPending(c echo.Context) error {
	p, err := h.svc.Pending(c.Request().Context(), c.Param("entity"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

func (h *Handler) Decide(c echo.Context) error {
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := ParseDecision(req.Decision)
	if err != nil {
		return httpError(err)
	}
	sum, err := h.svc.Resolve(c.Request().Context(), c.Param("entity"), c.Param("id"), d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Template(c echo.Context) error {
	f, err := parseFormat(c.QueryParam("format"))
	if err != nil {
		return err
	}
	entity := c.Param("entity")
	var buf bytes.Buffer
	if err := h.svc.WriteTemplate(&buf, entity, f); err != nil {
		return httpError(err)
	}
	return attachment(c, fmt.Sprintf("plantilla-%s.%s", entity, f), f, buf.Bytes())
}

func (h *Handler) Export(c echo.Context) error {
	f, err := parseFormat(c.QueryParam("format"))
	if err != nil {
		return err
	}
	entity := c.Param("entity")
	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), &buf, entity, f); err != nil {
		return httpError(err)
	}
	name := fmt.Sprintf("%s-%s.%s", entity, time.Now().Format("20060102"), f)
	return attachment(c, name, f, buf.Bytes())
}

func parseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", echo.NewHTTPError(http.StatusBadRequest, "format must be csv or xlsx")
}

func attachment(c echo.Context, name string, f Format, data []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, f.ContentType(), data)
}

func httpError(err error) error {
	var ce *CommitError
	switch {
	case errors.Is(err, ErrUnknownEntity), errors.Is(err, ErrPendingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrParse), errors.Is(err, ErrInvalidDecision):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNothingToImport):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &ce):
		return echo.NewHTTPError(http.StatusBadGateway,
			fmt.Sprintf("%d of %d records could not be saved; reload the list and retry", ce.Failed, ce.Total))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
