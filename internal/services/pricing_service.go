package services

import (
	"log/slog"

	"campusrun/internal/config"
	"campusrun/internal/domain/entities"
	"campusrun/internal/geo"
	"campusrun/internal/mapsvc"
	"campusrun/pkg/utils"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// PricingService turns a task location, the requester's location and an
// urgency tier into an itemized price. It is pure and safe for concurrent
// use; nothing is cached or persisted.
type PricingService struct {
	cfg  config.PricingConfig
	maps mapsvc.Provider
	log  *slog.Logger
}

func NewPricingService(cfg config.PricingConfig, maps mapsvc.Provider, log *slog.Logger) *PricingService {
	return &PricingService{cfg: cfg, maps: maps, log: log}
}

// PriceTask computes the breakdown for one task.
//
// A free task, a missing or invalid location, or an unknown urgency tier all
// yield the zero breakdown. So does any panic during the computation: a
// caller must never see a non-zero charge for a request that could not be
// priced.
func (s *PricingService) PriceTask(task, requester *entities.Location, urgency entities.Urgency, isFree bool) (breakdown entities.PriceBreakdown) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pricing panicked, returning zero breakdown", "action", "price_task", "panic", r)
			breakdown = entities.PriceBreakdown{}
		}
	}()

	if isFree || !task.Valid() || !requester.Valid() || !urgency.Valid() {
		return entities.PriceBreakdown{}
	}

	distanceKm := s.maps.DistanceKm(task, requester)
	if !geo.Comparable(distanceKm) {
		return entities.PriceBreakdown{}
	}
	miles := utils.KmToMiles(distanceKm)
	if miles < 0 {
		miles = 0
	}

	rate := utils.Money(s.cfg.DistanceRatePerHalfMile)
	base := utils.Cents(utils.Money(s.cfg.BasePrice))
	distanceFee := utils.Cents(rate.Mul(decimal.NewFromInt(halfMileUnits(miles))))
	urgencyFee := utils.Cents(utils.Money(s.cfg.UrgencyFees[string(urgency)]))

	subtotal := base.Add(distanceFee).Add(urgencyFee)
	serviceFee := utils.Cents(subtotal.Mul(utils.Money(s.cfg.ServiceFeePercent)).Div(decimal.NewFromInt(100)))
	total := subtotal.Add(serviceFee)

	return entities.PriceBreakdown{
		BasePrice:               utils.ToFloat(base),
		DistanceFee:             utils.ToFloat(distanceFee),
		UrgencyFee:              utils.ToFloat(urgencyFee),
		ServiceFee:              utils.ToFloat(serviceFee),
		Total:                   utils.ToFloat(total),
		DistanceMiles:           utils.ToFloat(decimal.NewFromFloat(miles).Round(2)),
		DistanceRatePerHalfMile: utils.ToFloat(rate),
		ServiceFeePercent:       s.cfg.ServiceFeePercent,
	}
}

// halfMileUnits bands a distance upward in half-mile steps: 0 mi is 0 units,
// anything in (0, 0.5] is 1 unit, (0.5, 1.0] is 2, and so on.
func halfMileUnits(miles float64) int64 {
	if miles <= 0 {
		return 0
	}
	return decimal.NewFromFloat(miles).Mul(two).Ceil().IntPart()
}
