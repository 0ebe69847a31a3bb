package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/starboard-forum/starboard/models"
	"github.com/starboard-forum/starboard/utils"
)

// AnalyticsController exposes moderation analytics over comments.
type AnalyticsController struct {
	db *gorm.DB
}

// NewAnalyticsController creates a new AnalyticsController instance.
func NewAnalyticsController(db *gorm.DB) *AnalyticsController {
	return &AnalyticsController{db: db}
}

const dateLayout = "2006-01-02"

// CommentsDailyBreakdown returns per-day totals of created and blocked
// comments for an inclusive [date_from, date_to] range. Days without
// comments appear with zero counts so the series has no gaps.
func (a *AnalyticsController) CommentsDailyBreakdown(ctx *gin.Context) {
	start, err := time.Parse(dateLayout, ctx.Query("date_from"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid date format")
		return
	}
	end, err := time.Parse(dateLayout, ctx.Query("date_to"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid date format")
		return
	}
	if start.After(end) {
		utils.Error(ctx, http.StatusBadRequest, 40041, "date_from must be earlier than date_to")
		return
	}

	type dailyRow struct {
		Day     string
		Total   int64
		Blocked int64
	}

	var rows []dailyRow
	if err := a.db.Model(&models.Comment{}).
		Select("DATE(created_at) AS day, COUNT(id) AS total, SUM(CASE WHEN is_blocked THEN 1 ELSE 0 END) AS blocked").
		Where("created_at >= ? AND created_at < ?", start, end.AddDate(0, 0, 1)).
		Group("DATE(created_at)").
		Order("day ASC").
		Scan(&rows).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to aggregate comments")
		return
	}

	analytics := map[string]gin.H{}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		analytics[d.Format(dateLayout)] = gin.H{"total_comments": int64(0), "blocked_comments": int64(0)}
	}
	for _, row := range rows {
		day := normalizeDay(row.Day)
		if _, ok := analytics[day]; ok {
			analytics[day] = gin.H{"total_comments": row.Total, "blocked_comments": row.Blocked}
		}
	}

	utils.Success(ctx, analytics)
}

// normalizeDay reduces whatever the driver produced for DATE(created_at) to
// the YYYY-MM-DD map key. MySQL under parseTime=True decodes the column as
// time.Time and database/sql renders that as an RFC3339 string; sqlite hands
// back the bare date text.
func normalizeDay(raw string) string {
	if len(raw) >= len(dateLayout) {
		if _, err := time.Parse(dateLayout, raw[:len(dateLayout)]); err == nil {
			return raw[:len(dateLayout)]
		}
	}
	return raw
}
