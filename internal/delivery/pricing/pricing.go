package pricing

import "math"

// Policy describes the distance based shipping fee.
type Policy struct {
	BaseFee       int64
	MaxFee        int64
	MaxDistanceKm float64
}

// Default is the checkout fee policy.
var Default = Policy{BaseFee: 20000, MaxFee: 50000, MaxDistanceKm: 15}

// PerKmRate spreads the fee range over the offerable distance.
func (p Policy) PerKmRate() float64 {
	if p.MaxDistanceKm <= 0 {
		return 0
	}
	return float64(p.MaxFee-p.BaseFee) / p.MaxDistanceKm
}

// Fee calculates the shipping fee for a distance in kilometres. Unknown or
// negative distances cost the base fee.
func (p Policy) Fee(km float64) int64 {
	if math.IsNaN(km) || km <= 0 {
		return p.BaseFee
	}
	// Clamp before converting: huge distances overflow int64.
	fee := math.Round(float64(p.BaseFee) + km*p.PerKmRate())
	if math.IsNaN(fee) || fee < float64(p.BaseFee) {
		return p.BaseFee
	}
	if fee > float64(p.MaxFee) {
		return p.MaxFee
	}
	return int64(fee)
}

// FeeFor accepts an optional distance.
func (p Policy) FeeFor(km *float64) int64 {
	if km == nil {
		return p.BaseFee
	}
	return p.Fee(*km)
}

// FeeForMeters is a convenience for distances stored in metres.
func (p Policy) FeeForMeters(meters int) int64 {
	if meters < 0 {
		return p.BaseFee
	}
	return p.Fee(float64(meters) / 1000)
}

// Offerable reports whether an order at this distance may be placed at all.
func (p Policy) Offerable(km float64) bool {
	if math.IsNaN(km) || km < 0 {
		return true
	}
	return km <= p.MaxDistanceKm
}

// Fee uses the Default policy.
func Fee(km float64) int64 { return Default.Fee(km) }
