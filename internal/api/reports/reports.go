// Package reports exposes compliance report generation over HTTP. Reports are
// computed on demand from the audit trail; nothing is cached, so a report
// always reflects the trail as stored at the moment it is requested.
package reports

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinkaiteo/qms-backend/internal/compliance"
)

// defaultReportWindow is the lookback used when the request names no window.
const defaultReportWindow = 30 * 24 * time.Hour

// Handlers implements the compliance report endpoints.
type Handlers struct {
	reporter *compliance.Reporter
}

// NewHandlers creates report Handlers.
func NewHandlers(reporter *compliance.Reporter) *Handlers {
	return &Handlers{reporter: reporter}
}

// @Summary      Compliance report
// @Description  Generates the compliance report for a window and optional module. Defaults to the last 30 days.
// @Tags         Compliance
// @Produce      json
// @Param        start_date  query  string  false  "Inclusive window start, RFC3339"
// @Param        end_date    query  string  false  "Exclusive window end, RFC3339"
// @Param        module      query  string  false  "Restrict to one module (EDMS, QRM, TRM, LIMS, SYSTEM)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Invalid window"
// @Router       /api/v1/compliance/report [get]
// ReportHandler generates a single compliance report.
func (h *Handlers) ReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, err := parseWindow(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		report, err := h.reporter.Generate(c.Request.Context(), start, end, c.Query("module"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate report"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// @Summary      Full compliance report
// @Description  Generates per-module reports plus the overall pass and the weighted data-quality score.
// @Tags         Compliance
// @Produce      json
// @Param        start_date  query  string  false  "Inclusive window start, RFC3339"
// @Param        end_date    query  string  false  "Exclusive window end, RFC3339"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/compliance/report/full [get]
// FullReportHandler generates the multi-module compliance report.
func (h *Handlers) FullReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, err := parseWindow(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		report, err := h.reporter.GenerateFull(c.Request.Context(), start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate report"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

type windowError string

func (e windowError) Error() string { return string(e) }

// parseWindow reads the [start, end) reporting window from query parameters,
// defaulting to the 30 days ending now.
func parseWindow(c *gin.Context) (start, end time.Time, err error) {
	end = time.Now().UTC()
	if v := c.Query("end_date"); v != "" {
		end, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, windowError("invalid end_date parameter")
		}
		end = end.UTC()
	}

	start = end.Add(-defaultReportWindow)
	if v := c.Query("start_date"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, windowError("invalid start_date parameter")
		}
		start = start.UTC()
	}

	if !start.Before(end) {
		return start, end, windowError("start_date must be before end_date")
	}
	return start, end, nil
}
