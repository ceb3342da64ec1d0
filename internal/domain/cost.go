package domain

// CostDetails is the derived price breakdown of one generation.
type CostDetails struct {
	Model          string  `json:"model"`
	Resolution     string  `json:"resolution"`
	Duration       float64 `json:"duration"`
	PricePerSecond float64 `json:"pricePerSecond"`
	TotalCost      float64 `json:"totalCost"`
}
