package model

import "time"

// Variant categories. CRUD rejects anything outside this set.
const (
	CategoryGeneral    = "general"
	CategoryRisk       = "risk"
	CategoryPrice      = "price"
	CategoryStopLoss   = "stop_loss"
	CategoryTakeProfit = "take_profit"
	CategoryCloseOrder = "close_order"
)

// VariantCategories lists the allowed variant categories in a fixed order.
var VariantCategories = []string{
	CategoryGeneral,
	CategoryRisk,
	CategoryPrice,
	CategoryStopLoss,
	CategoryTakeProfit,
	CategoryCloseOrder,
}

// ValidCategory reports whether c is one of the allowed variant categories.
func ValidCategory(c string) bool {
	for _, v := range VariantCategories {
		if v == c {
			return true
		}
	}
	return false
}

// IndicatorVariant is a named, persisted parameterization of a base
// algorithm. The external repository is the source of truth; the engine
// only mirrors variants into an in-memory index.
type IndicatorVariant struct {
	ID          string         `json:"id"`
	Name        string         `json:"name" validate:"required,min=1,max=128"`
	BaseType    string         `json:"base_indicator_type" validate:"required"`
	Category    string         `json:"variant_type" validate:"required"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	CreatedBy   string         `json:"created_by"`
	IsSystem    bool           `json:"is_system"`
	CreatedAt   time.Time      `json:"created_at"`
	Deleted     bool           `json:"deleted,omitempty"`
}
