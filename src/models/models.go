package models

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&School{},
		&Client{},
		&Sport{},
		&Degree{},
		&Course{},
		&CourseDate{},
		&CourseGroup{},
		&CourseSubgroup{},
		&Monitor{},
		&MonitorSchool{},
		&MonitorSportAuthorization{},
		&MonitorNwd{},
		&Booking{},
		&BookingLine{},
		&BookingLineExtra{},
		&Voucher{},
		&VoucherUsageLog{},
		&DiscountCode{},
		&DiscountCodeUsage{},
		&Payment{},
		&BookingLog{},
		&PriceSnapshot{},
	}
}
