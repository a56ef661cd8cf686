package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/komemarche-backend/internal/report"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/service"
)

const defaultStatsWindow = 30 * 24 * time.Hour

type AdminHandler struct {
	stats service.StatsService
	loc   *time.Location
	now   func() time.Time
}

func NewAdminHandler(stats service.StatsService, loc *time.Location, now func() time.Time) *AdminHandler {
	if now == nil {
		now = time.Now
	}
	return &AdminHandler{stats: stats, loc: loc, now: now}
}

// filter reads from / to (YYYY-MM-DD, to exclusive) and farm_id. The default range is the last 30 days
// up to a week ahead so the coming pickups are included.
func (h *AdminHandler) filter(c echo.Context) (repository.StatsFilter, error) {
	now := h.now().In(h.loc)
	f := repository.StatsFilter{From: now.Add(-defaultStatsWindow), To: now.Add(7 * 24 * time.Hour)}
	if v := c.QueryParam("from"); v != "" {
		t, err := parseDate(v, h.loc)
		if err != nil {
			return f, err
		}
		f.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := parseDate(v, h.loc)
		if err != nil {
			return f, err
		}
		f.To = t
	}
	if v := c.QueryParam("farm_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, err
		}
		f.FarmID = id
	}
	return f, nil
}

func (h *AdminHandler) Stats(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return badRequest(c, "invalid filter: "+err.Error())
	}
	rows, err := h.stats.ByOccurrence(c.Request().Context(), f)
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"from":        f.From.In(h.loc).Format(time.RFC3339),
		"to":          f.To.In(h.loc).Format(time.RFC3339),
		"occurrences": rows,
	})
}

// StatsCSV exports the same rows. encoding=utf8 opts out of Shift_JIS.
func (h *AdminHandler) StatsCSV(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return badRequest(c, "invalid filter: "+err.Error())
	}
	rows, err := h.stats.ByOccurrence(c.Request().Context(), f)
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	sjis := c.QueryParam("encoding") != "utf8"
	charset := "Shift_JIS"
	if !sjis {
		charset = "utf-8"
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset="+charset)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+report.StatsFilename(f.From, f.To)+`"`)
	c.Response().WriteHeader(http.StatusOK)
	return report.WriteStatsCSV(c.Response(), rows, sjis)
}
