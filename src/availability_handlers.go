package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neuron-e/api-boukii-sub005/src/availability"
	"github.com/neuron-e/api-boukii-sub005/src/booking"
	"github.com/neuron-e/api-boukii-sub005/src/capacity"
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/models/scopes"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"gorm.io/gorm"
)

func availabilityHandlers(g *gin.RouterGroup, o *booking.Orchestrator) *gin.RouterGroup {
	g.
		GET("/subgroups/:id/availability", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			var query struct {
				Date string `form:"date" binding:"required,datetime=2006-01-02"`
			}
			if err := ctx.ShouldBindQuery(&query); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			tx := o.DB.WithContext(ctx)
			var owned int64
			if err := tx.
				Model(&models.CourseSubgroup{}).
				Joins("JOIN courses ON courses.id = course_subgroups.course_id").
				Where("course_subgroups.id = ?", params.ID).
				Where("courses.school_id = ?", ctx.GetUint("school")).
				Count(&owned).
				Error; err != nil {
				abortWithError(ctx, err)
				return
			}
			if owned == 0 {
				ctx.JSON(http.StatusNotFound, gin.H{"error": capacity.ErrSubgroupNotFound.Error()})
				return
			}
			slots, err := capacity.AvailableSlots(tx, params.ID, query.Date)
			if errors.Is(err, capacity.ErrSubgroupNotFound) {
				ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"subgroup_id": params.ID, "date": query.Date, "available_slots": slots}})
		}).
		POST("/monitors/available", func(ctx *gin.Context) {
			var req types.AvailableMonitorsRequest
			if err := ctx.ShouldBindJSON(&req); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": booking.AsValidationError(err).Error()})
				return
			}
			w, err := availability.NewWindow(req.Date, req.HourStart, req.HourEnd)
			if err != nil || w.End <= w.Start {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "hour_end must be after hour_start"})
				return
			}
			schoolID := ctx.GetUint("school")
			q := availability.Query{
				SchoolID:       schoolID,
				SportID:        req.SportID,
				Window:         w,
				MinDegreeOrder: req.MinDegreeOrder,
			}
			var monitors []models.Monitor
			err = o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if len(req.ClientIDs) > 0 {
					var clients []models.Client
					if err := tx.Scopes(scopes.WithIDs(req.ClientIDs...), scopes.WithSchool(schoolID)).Find(&clients).Error; err != nil {
						return err
					}
					day, _ := time.Parse(config.DATE_FORMAT, req.Date)
					seen := map[uint]bool{}
					for _, c := range clients {
						q.HasAdult = q.HasAdult || c.IsAdultOn(day)
						for _, lang := range c.Languages() {
							if !seen[lang] {
								seen[lang] = true
								q.Languages = append(q.Languages, lang)
							}
						}
					}
				}
				var err error
				monitors, err = availability.Available(tx, q)
				return err
			})
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": monitors, "count": len(monitors)})
		})
	return g
}
