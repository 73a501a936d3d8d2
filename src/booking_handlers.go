package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neuron-e/api-boukii-sub005/src/balance"
	"github.com/neuron-e/api-boukii-sub005/src/booking"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/models/scopes"
	"github.com/neuron-e/api-boukii-sub005/src/pricing"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"gorm.io/gorm"
)

// errorStatus maps booking core failures onto HTTP statuses.
func errorStatus(err error) int {
	var (
		ve  *types.ValidationError
		ce  *types.CapacityError
		te  *types.TimingError
		oe  *types.OverbookingError
		me  *types.MonitorUnavailableError
		de  *types.DiscountError
		vbe *types.VoucherBatchError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &ce), errors.As(err, &te), errors.As(err, &oe), errors.As(err, &me),
		errors.Is(err, types.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.As(err, &de), errors.As(err, &vbe), errors.Is(err, types.ErrNothingPending):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrGatewayFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(ctx *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		ctx.AbortWithStatusJSON(status, gin.H{"error": types.ErrBookingFailed.Error()})
		return
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// ownBooking makes sure the booking belongs to the caller's school before any
// read that does not go through the orchestrator.
func ownBooking(tx *gorm.DB, schoolID, bookingID uint) error {
	var b models.Booking
	return tx.
		Select("id").
		Scopes(scopes.WithID(bookingID), scopes.WithSchool(schoolID)).
		First(&b).
		Error
}

func bookingHandlers(g *gin.RouterGroup, o *booking.Orchestrator) *gin.RouterGroup {
	g.
		GET("/bookings", func(ctx *gin.Context) {
			var query struct {
				Status types.BookingStatus `form:"status" binding:"omitempty,oneof=provisional active partially_cancelled fully_cancelled"`
			}
			if err := ctx.ShouldBindQuery(&query); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			stmt := o.DB.WithContext(ctx).Scopes(scopes.WithSchool(ctx.GetUint("school")))
			if query.Status != "" {
				stmt = stmt.Where("status = ?", query.Status)
			}
			var bookings []models.Booking
			if err := stmt.Order("id DESC").Find(&bookings).Error; err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bookings, "count": len(bookings)})
		}).
		GET("/bookings/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			var b models.Booking
			if err := o.DB.WithContext(ctx).
				Scopes(scopes.WithID(params.ID), scopes.WithSchool(ctx.GetUint("school"))).
				Preload("BookingLines.Extras").
				First(&b).
				Error; err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/bookings", func(ctx *gin.Context) {
			var req types.CreateBookingRequest
			if err := ctx.ShouldBindJSON(&req); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": booking.AsValidationError(err).Error()})
				return
			}
			req.SchoolID = ctx.GetUint("school")
			if req.RequestID == "" {
				req.RequestID = ctx.GetHeader("Idempotency-Key")
			}
			b, err := o.Create(ctx, req)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": b})
		}).
		GET("/bookings/:id/balance", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			tx := o.DB.WithContext(ctx)
			if err := ownBooking(tx, ctx.GetUint("school"), params.ID); err != nil {
				abortWithError(ctx, err)
				return
			}
			bal, err := balance.Compute(tx, params.ID)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bal})
		}).
		GET("/bookings/:id/price", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			tx := o.DB.WithContext(ctx)
			if err := ownBooking(tx, ctx.GetUint("school"), params.ID); err != nil {
				abortWithError(ctx, err)
				return
			}
			b, calc, err := pricing.CalculateForBooking(tx, params.ID)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			drift, drifted := pricing.DetectDrift(*b, calc)
			ctx.JSON(http.StatusOK, gin.H{"data": calc, "drift": drift, "has_drift": drifted})
		}).
		POST("/bookings/:id/cancel", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			var req types.CancelBookingRequest
			if err := ctx.ShouldBindJSON(&req); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": booking.AsValidationError(err).Error()})
				return
			}
			res, err := o.Cancel(ctx, ctx.GetUint("school"), params.ID, req)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": res})
		}).
		POST("/bookings/:id/payments", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			var req types.RecordPaymentRequest
			if err := ctx.ShouldBindJSON(&req); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": booking.AsValidationError(err).Error()})
				return
			}
			bal, err := o.RecordPayment(ctx, ctx.GetUint("school"), params.ID, req)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": bal})
		}).
		POST("/bookings/:id/payment-link", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			var req types.PaymentLinkRequest
			if err := ctx.ShouldBindJSON(&req); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": booking.AsValidationError(err).Error()})
				return
			}
			url, err := o.PaymentLink(ctx, ctx.GetUint("school"), params.ID, req.ReturnURL)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"url": url}})
		})
	return g
}
