// Package pricing estimates the cost of a video generation from the
// published per-second price table.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"videogateway/internal/domain"
)

const (
	ModelSora2    = "sora-2"
	ModelSora2Pro = "sora-2-pro"
)

var (
	ErrInvalidUsage = errors.New("pricing: invalid usage")
	ErrUnknownModel = errors.New("pricing: unknown model")
)

type tier int

const (
	tierBase tier = iota
	tierPremium
)

// pricePerSecond is indexed by model then tier, in USD.
var pricePerSecond = map[string][2]float64{
	ModelSora2:    {0.10, 0.30},
	ModelSora2Pro: {0.30, 0.50},
}

// Usage describes one generation for pricing purposes. Seconds is nil when the
// duration is unknown.
type Usage struct {
	Model   string
	Size    string
	Seconds *float64
}

// ParseUsage builds a Usage from wire values, where seconds arrives as a
// string. A non-numeric seconds value yields a nil Seconds.
func ParseUsage(model, size, seconds string) Usage {
	u := Usage{Model: model, Size: size}
	if v, err := strconv.ParseFloat(strings.TrimSpace(seconds), 64); err == nil {
		u.Seconds = &v
	}
	return u
}

// CalculateVideoCost prices a generation. It returns an error wrapping
// ErrInvalidUsage or ErrUnknownModel instead of panicking on bad input.
func CalculateVideoCost(u Usage) (domain.CostDetails, error) {
	if u.Model == "" || u.Size == "" || u.Seconds == nil || math.IsNaN(*u.Seconds) {
		return domain.CostDetails{}, ErrInvalidUsage
	}
	width, height, err := parseResolution(u.Size)
	if err != nil {
		return domain.CostDetails{}, err
	}
	prices, ok := pricePerSecond[u.Model]
	if !ok {
		return domain.CostDetails{}, fmt.Errorf("%w: %q", ErrUnknownModel, u.Model)
	}
	rate := prices[classify(width, height)]
	seconds := *u.Seconds
	return domain.CostDetails{
		Model:          u.Model,
		Resolution:     u.Size,
		Duration:       seconds,
		PricePerSecond: rate,
		TotalCost:      math.Round(seconds*rate*100) / 100,
	}, nil
}

// classify selects the base tier for the two 720p orientations.
func classify(width, height int) tier {
	if (width == 1280 && height == 720) || (width == 720 && height == 1280) {
		return tierBase
	}
	return tierPremium
}

func parseResolution(size string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(size), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: size %q", ErrInvalidUsage, size)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: size %q", ErrInvalidUsage, size)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: size %q", ErrInvalidUsage, size)
	}
	return width, height, nil
}
