package application

import (
	"math"
	"strings"
	"time"

	"freshtrack-cloud/internal/apperr"
	readings "freshtrack-cloud/internal/readings/domain"
)

// RawReading is one reading as submitted by a sensor gateway.
type RawReading struct {
	UnitID         string   `json:"unit_id"`
	DeviceID       string   `json:"device_id,omitempty"`
	Temperature    *float64 `json:"temperature"`
	TempUnit       string   `json:"temp_unit,omitempty"`
	Humidity       *float64 `json:"humidity,omitempty"`
	BatteryPercent *int     `json:"battery_percent,omitempty"`
	SignalRSSI     *int     `json:"signal_rssi,omitempty"`
	RecordedAt     string   `json:"recorded_at"`
	Source         string   `json:"source,omitempty"`
}

// parsed is a validated payload not yet bound to a unit.
type parsed struct {
	index      int
	raw        RawReading
	value      float64
	unit       readings.TempUnit
	recordedAt time.Time
	source     readings.Source
}

type bounds struct {
	now        time.Time
	maxFuture  time.Duration
	maxPastAge time.Duration
}

// validate checks one payload and returns every issue found.
func validate(index int, raw RawReading, fallback readings.Source, b bounds) (parsed, []apperr.Issue) {
	var issues []apperr.Issue
	unitID := strings.TrimSpace(raw.UnitID)
	fail := func(field, reason string) {
		issues = append(issues, apperr.Issue{Index: index, UnitID: unitID, Field: field, Reason: reason})
	}
	out := parsed{index: index, raw: raw, source: fallback}
	out.raw.UnitID = unitID

	if unitID == "" {
		fail("unit_id", "required")
	}

	if raw.TempUnit != "" {
		unit, ok := readings.ParseTempUnit(raw.TempUnit)
		if !ok {
			fail("temp_unit", "must be F or C")
		}
		out.unit = unit
	}

	switch {
	case raw.Temperature == nil:
		fail("temperature", "required")
	case math.IsNaN(*raw.Temperature) || math.IsInf(*raw.Temperature, 0):
		fail("temperature", "must be a finite number")
	default:
		out.value = *raw.Temperature
	}

	if strings.TrimSpace(raw.RecordedAt) == "" {
		fail("recorded_at", "required")
	} else if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw.RecordedAt)); err != nil {
		fail("recorded_at", "must be RFC3339")
	} else {
		// Postgres keeps microseconds; anchors must compare equal after a round trip.
		out.recordedAt = ts.UTC().Truncate(time.Microsecond)
		if b.maxFuture > 0 && out.recordedAt.After(b.now.Add(b.maxFuture)) {
			fail("recorded_at", "too far in the future")
		}
		if b.maxPastAge > 0 && out.recordedAt.Before(b.now.Add(-b.maxPastAge)) {
			fail("recorded_at", "older than the accepted history window")
		}
	}

	if raw.Humidity != nil && (math.IsNaN(*raw.Humidity) || *raw.Humidity < 0 || *raw.Humidity > 100) {
		fail("humidity", "must be between 0 and 100")
	}
	if raw.BatteryPercent != nil && (*raw.BatteryPercent < 0 || *raw.BatteryPercent > 100) {
		fail("battery_percent", "must be between 0 and 100")
	}

	if raw.Source != "" {
		source := readings.Source(strings.ToLower(strings.TrimSpace(raw.Source)))
		if !source.Valid() {
			fail("source", "unknown source")
		}
		out.source = source
	}
	return out, issues
}

func (p parsed) measuredIn(unitTemp readings.TempUnit) readings.TempUnit {
	if p.unit != "" {
		return p.unit
	}
	return unitTemp
}

// plausible reports whether the value fits the physical sensor band once its
// unit of measure is known.
func (p parsed) plausible(unitTemp readings.TempUnit) bool {
	return readings.WithinPhysicalRange(p.value, p.measuredIn(unitTemp))
}

// toReading binds a validated payload to its unit's unit of measure.
func (p parsed) toReading(id, orgID string, unitTemp readings.TempUnit, receivedAt time.Time) readings.Reading {
	from := p.measuredIn(unitTemp)
	return readings.Reading{
		ID:             id,
		OrgID:          orgID,
		UnitID:         p.raw.UnitID,
		DeviceID:       strings.TrimSpace(p.raw.DeviceID),
		Temperature:    readings.TenthsFromFloat(readings.Convert(p.value, from, unitTemp)),
		Humidity:       p.raw.Humidity,
		BatteryPercent: p.raw.BatteryPercent,
		SignalRSSI:     p.raw.SignalRSSI,
		RecordedAt:     p.recordedAt,
		ReceivedAt:     receivedAt,
		Source:         p.source,
	}
}
