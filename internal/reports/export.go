package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "freshtrack-cloud/internal/alerts/domain"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

const (
	summarySheet  = "summary"
	readingsSheet = "readings"
)

// BuildReadingsXLSX renders the temperature log of a unit with an excursion flag per row.
func BuildReadingsXLSX(unit units.Unit, rows []readings.Reading, from, to time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}

	var excursions int
	for _, reading := range rows {
		if outOfRange(unit, reading.Temperature) {
			excursions++
		}
	}
	summary := [][2]any{
		{"Unit", unitLabel(unit)},
		{"Organization", unit.OrgID},
		{"Site", unit.SiteID},
		{"Period", formatPeriod(from, to)},
		{"Safe range", fmt.Sprintf("%s to %s °%s", unit.TempMin, unit.TempMax, unit.TempUnit)},
		{"Readings", len(rows)},
		{"Out of range", excursions},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Temperature Log")
	for i, pair := range summary {
		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), pair[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), pair[1])
	}

	header := []any{"Recorded (UTC)", "Temperature", "Humidity", "Battery %", "Source", "Out of range"}
	if err := f.SetSheetRow(readingsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, reading := range rows {
		line := []any{
			reading.RecordedAt.UTC().Format(time.RFC3339),
			reading.Temperature.Float(),
			optionalFloat(reading.Humidity),
			optionalInt(reading.BatteryPercent),
			string(reading.Source),
			outOfRange(unit, reading.Temperature),
		}
		if err := f.SetSheetRow(readingsSheet, fmt.Sprintf("A%d", i+2), &line); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertHistoryPDF renders the alert history of a unit for inspectors.
func BuildAlertHistoryPDF(unit units.Unit, history []alerts.Alert, from, to time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Unit: %s", unitLabel(unit)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", formatPeriod(from, to)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Safe range: %s to %s %s", unit.TempMin, unit.TempMax, unit.TempUnit))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(history)))
	pdf.Ln(8)

	widths := []float64{40, 45, 22, 28, 18, 40, 40, 44}
	headers := []string{"Triggered", "Type", "Severity", "Status", "Level", "Acknowledged", "Resolved", "Acknowledged by"}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range headers {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range history {
		cells := []string{
			formatTime(alert.TriggeredAt),
			string(alert.Type),
			string(alert.Severity),
			string(alert.Status),
			fmt.Sprintf("%d", alert.EscalationLevel),
			formatTime(alert.AcknowledgedAt),
			formatTime(alert.ResolvedAt),
			alert.AcknowledgedBy,
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 6, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func outOfRange(unit units.Unit, value readings.Tenths) bool {
	return value < unit.TempMin || value > unit.TempMax
}

func unitLabel(unit units.Unit) string {
	if unit.Name == "" {
		return unit.ID
	}
	return fmt.Sprintf("%s (%s)", unit.Name, unit.ID)
}

func formatPeriod(from, to time.Time) string {
	return fmt.Sprintf("%s to %s", formatTime(from), formatTime(to))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func optionalFloat(value *float64) any {
	if value == nil {
		return ""
	}
	return *value
}

func optionalInt(value *int) any {
	if value == nil {
		return ""
	}
	return *value
}
