package pricing

import (
	"fmt"
	"math"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/model"
)

type Dimension string

const (
	DimensionCPU       Dimension = "cpu"
	DimensionMemory    Dimension = "memory"
	DimensionDisk      Dimension = "disk"
	DimensionBandwidth Dimension = "bandwidth"
	DimensionPort      Dimension = "port"
)

// Dimensions is the fixed evaluation order used for breakdowns.
var Dimensions = []Dimension{DimensionCPU, DimensionMemory, DimensionDisk, DimensionBandwidth, DimensionPort}

// Plan maps each dimension to its monthly per-unit rate.
type Plan map[Dimension]float64

var DefaultPlan = Plan{
	DimensionCPU:       10,
	DimensionMemory:    5,
	DimensionDisk:      0.1,
	DimensionBandwidth: 0.5,
	DimensionPort:      2,
}

type LineItem struct {
	Dimension Dimension `json:"dimension"`
	Quantity  int       `json:"quantity"`
	Rate      float64   `json:"rate"`
	Cost      float64   `json:"cost"`
}

type Quote struct {
	MonthlyCost float64    `json:"monthlyCost"`
	TotalCost   float64    `json:"totalCost"`
	TermMonths  int        `json:"months"`
	Breakdown   []LineItem `json:"breakdown"`
}

// rates are held in ten-thousandths of a currency unit so sums are exact.
const rateScale = 10000

// Upper bounds per order. Memory and disk are in GB, bandwidth in Mbps.
const (
	MaxCPU        = 256
	MaxMemory     = 2048
	MaxDisk       = 100000
	MaxBandwidth  = 100000
	MaxPorts      = 1000
	MaxTermMonths = 120

	// MaxAmountCents is the largest amount the orders table can hold (numeric(10,2)).
	MaxAmountCents = 9_999_999_999
)

const maxScaled = MaxAmountCents * 100

// Compute prices cfg for termMonths. The monthly sum is rounded half-up to cents and
// the total is derived from the rounded monthly figure.
func Compute(cfg model.ResourceConfiguration, termMonths int, plan Plan) (Quote, error) {
	if err := Validate(cfg, termMonths); err != nil {
		return Quote{}, err
	}

	quantities := map[Dimension]int{
		DimensionCPU:       cfg.CPU,
		DimensionMemory:    cfg.Memory,
		DimensionDisk:      cfg.Disk,
		DimensionBandwidth: cfg.Bandwidth,
		DimensionPort:      cfg.Ports,
	}

	var monthlyScaled int64
	breakdown := make([]LineItem, 0, len(Dimensions))
	for _, dim := range Dimensions {
		rate, ok := plan[dim]
		if !ok || rate < 0 {
			return Quote{}, apperr.New(apperr.CodeInvalidConfiguration, "price plan has no valid rate for "+string(dim))
		}
		scaledRate := math.Round(rate * rateScale)
		if scaledRate > maxScaled {
			return Quote{}, apperr.New(apperr.CodeInvalidConfiguration, "price plan rate for "+string(dim)+" is too large")
		}
		qty := quantities[dim]
		if scaledRate > 0 && int64(qty) > (maxScaled-monthlyScaled)/int64(scaledRate) {
			return Quote{}, tooExpensive()
		}
		contribution := int64(qty) * int64(scaledRate)
		monthlyScaled += contribution
		breakdown = append(breakdown, LineItem{
			Dimension: dim,
			Quantity:  qty,
			Rate:      rate,
			Cost:      centsToAmount(roundHalfUpToCents(contribution)),
		})
	}

	monthlyCents := roundHalfUpToCents(monthlyScaled)
	if monthlyCents > MaxAmountCents/int64(termMonths) {
		return Quote{}, tooExpensive()
	}
	return Quote{
		MonthlyCost: centsToAmount(monthlyCents),
		TotalCost:   centsToAmount(monthlyCents * int64(termMonths)),
		TermMonths:  termMonths,
		Breakdown:   breakdown,
	}, nil
}

// Validate reports InvalidConfiguration for dimensions or terms outside
// 1..Max*.
func Validate(cfg model.ResourceConfiguration, termMonths int) error {
	for _, b := range []struct {
		name     string
		v, limit int
	}{
		{"cpu", cfg.CPU, MaxCPU},
		{"memory", cfg.Memory, MaxMemory},
		{"disk", cfg.Disk, MaxDisk},
		{"bandwidth", cfg.Bandwidth, MaxBandwidth},
		{"ports", cfg.Ports, MaxPorts},
	} {
		if b.v <= 0 {
			return invalid(b.name + " must be positive")
		}
		if b.v > b.limit {
			return invalid(fmt.Sprintf("%s must not exceed %d", b.name, b.limit)).WithMeta("max", b.limit)
		}
	}
	switch {
	case termMonths < 1:
		return invalid("months must be at least 1")
	case termMonths > MaxTermMonths:
		return invalid(fmt.Sprintf("months must not exceed %d", MaxTermMonths)).WithMeta("max", MaxTermMonths)
	}
	return nil
}

func invalid(msg string) *apperr.Error {
	return apperr.New(apperr.CodeInvalidConfiguration, msg)
}

func tooExpensive() error {
	return invalid("order amount exceeds the maximum of 99999999.99")
}

// roundHalfUpToCents converts a non-negative ten-thousandths value to cents.
func roundHalfUpToCents(scaled int64) int64 {
	return (scaled + 50) / 100
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}
