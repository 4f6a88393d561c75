package readings

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Tenths is a temperature in tenths of a degree.
type Tenths int32

// TenthsFromFloat rounds half away from zero to one decimal.
func TenthsFromFloat(value float64) Tenths {
	return Tenths(math.Round(value * 10))
}

// Float returns the value in degrees.
func (t Tenths) Float() float64 {
	return float64(t) / 10
}

func (t Tenths) String() string {
	return strconv.FormatFloat(t.Float(), 'f', 1, 64)
}

// MarshalJSON encodes the value as a decimal number.
func (t Tenths) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalJSON decodes a decimal number.
func (t *Tenths) UnmarshalJSON(data []byte) error {
	value, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return errors.New("temperature: invalid number")
	}
	*t = TenthsFromFloat(value)
	return nil
}

// TempUnit is a unit of measure for temperature.
type TempUnit string

const (
	Fahrenheit TempUnit = "F"
	Celsius    TempUnit = "C"
)

// ParseTempUnit accepts F/C in any case and their long names.
func ParseTempUnit(value string) (TempUnit, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "f", "fahrenheit", "degf":
		return Fahrenheit, true
	case "c", "celsius", "degc":
		return Celsius, true
	default:
		return "", false
	}
}

// Valid reports whether the unit is known.
func (u TempUnit) Valid() bool {
	return u == Fahrenheit || u == Celsius
}

// Convert converts a temperature between units.
func Convert(value float64, from, to TempUnit) float64 {
	if from == to || from == "" || to == "" {
		return value
	}
	if from == Fahrenheit && to == Celsius {
		return (value - 32) * 5 / 9
	}
	return value*9/5 + 32
}

// Physical limits of refrigeration sensors, in Celsius.
const (
	PhysicalMinCelsius = -100.0
	PhysicalMaxCelsius = 150.0
)

// WithinPhysicalRange reports whether a reading is plausible for a refrigeration sensor.
func WithinPhysicalRange(value float64, unit TempUnit) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	c := Convert(value, unit, Celsius)
	return c >= PhysicalMinCelsius && c <= PhysicalMaxCelsius
}
