// Package units converts quantities between kitchen measurement units.
// Weight and volume form two incompatible families; conversion inside a
// family goes through the family's base unit (grams or milliliters).
package units

import "strings"

// Family partitions units into incompatible measurement systems.
type Family string

const (
	Weight  Family = "weight"
	Volume  Family = "volume"
	Unknown Family = ""
)

// factors give the size of one unit expressed in its family base unit.
var weightFactors = map[string]float64{
	"g":  1,
	"kg": 1000,
	"oz": 28.3495,
	"lb": 453.592,
}

var volumeFactors = map[string]float64{
	"ml":   1,
	"l":    1000,
	"cup":  240,
	"tbsp": 14.7868,
	"tsp":  4.92892,
}

var aliases = map[string]string{
	"gram":        "g",
	"grams":       "g",
	"kilogram":    "kg",
	"kilograms":   "kg",
	"ounce":       "oz",
	"ounces":      "oz",
	"pound":       "lb",
	"pounds":      "lb",
	"milliliter":  "ml",
	"milliliters": "ml",
	"liter":       "l",
	"liters":      "l",
	"cups":        "cup",
	"tablespoon":  "tbsp",
	"tablespoons": "tbsp",
	"teaspoon":    "tsp",
	"teaspoons":   "tsp",
}

// Normalize maps a unit spelling onto its canonical short code. Unknown
// spellings are returned lowercased and trimmed.
func Normalize(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if canonical, ok := aliases[u]; ok {
		return canonical
	}
	return u
}

// FamilyOf returns the measurement family a unit belongs to, or Unknown.
func FamilyOf(unit string) Family {
	u := Normalize(unit)
	if _, ok := weightFactors[u]; ok {
		return Weight
	}
	if _, ok := volumeFactors[u]; ok {
		return Volume
	}
	return Unknown
}

// Known reports whether the unit belongs to a supported family.
func Known(unit string) bool {
	return FamilyOf(unit) != Unknown
}

// Convert converts quantity from one unit to another. The second return
// value reports whether the conversion applied: it is false when the units
// belong to different families or either unit is unknown, in which case the
// quantity comes back unchanged. Availability checks degrade on a false
// result instead of failing an order.
func Convert(quantity float64, fromUnit, toUnit string) (float64, bool) {
	from := Normalize(fromUnit)
	to := Normalize(toUnit)

	if from == to {
		// Skip the factor round trip so identity conversions carry no
		// floating point drift.
		return quantity, true
	}

	family := FamilyOf(from)
	if family == Unknown || family != FamilyOf(to) {
		return quantity, false
	}

	factors := weightFactors
	if family == Volume {
		factors = volumeFactors
	}

	return quantity * factors[from] / factors[to], true
}
