package middlewares

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/neuron-e/api-boukii-sub005/src/lib"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const SchoolHeader = "X-School-ID"

// SchoolContext resolves the tenant from the X-School-ID header and stores its
// id under "school". Unknown or inactive schools are rejected.
func SchoolContext(db *gorm.DB) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw := ctx.GetHeader(SchoolHeader)
		id, err := strconv.ParseUint(raw, 10, 64)
		if raw == "" || err != nil || id == 0 {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + SchoolHeader})
			return
		}
		var school models.School
		err = db.
			Select("id", "active").
			Where("id = ?", id).
			First(&school).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !school.Active) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown school"})
			return
		}
		if err != nil {
			lib.GetLogger().Error("Could not resolve school", zap.Uint64("school", id), zap.Error(err))
			ctx.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		ctx.Set("school", school.ID)
	}
}
