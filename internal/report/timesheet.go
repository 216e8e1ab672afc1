package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/garnizeh/fieldops/pkg/models"
)

const (
	SheetName   = "Timesheet"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	stampLayout = "2006-01-02 15:04"
)

var timesheetHeaders = []string{"Work order", "Technician", "Activity", "Start", "End", "Minutes"}

// Timesheet renders time entries as a workbook with one row per entry in
// start order, followed by a total per activity. Open entries have no end
// and count zero minutes. Times are written in loc; nil means UTC.
func Timesheet(entries []models.TimeEntry, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}
	sorted := make([]models.TimeEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	for i, h := range timesheetHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(SheetName, cell, cell, header); err != nil {
			return nil, err
		}
	}

	totals := map[models.ActivityType]int{}
	row := 2
	for _, e := range sorted {
		mins := 0
		if e.DurationMinutes != nil {
			mins = *e.DurationMinutes
		}
		totals[e.ActivityType] += mins

		values := []any{e.WorkOrderID, e.TechnicianID, string(e.ActivityType), e.StartTime.In(loc).Format(stampLayout), "", mins}
		if e.EndTime != nil {
			values[4] = e.EndTime.In(loc).Format(stampLayout)
		}
		if err := f.SetSheetRow(SheetName, fmt.Sprintf("A%d", row), &values); err != nil {
			return nil, err
		}
		row++
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("total style: %w", err)
	}
	row++
	for _, a := range []models.ActivityType{models.ActivityWork, models.ActivityTravel} {
		if err := f.SetCellValue(SheetName, fmt.Sprintf("A%d", row), "Total "+string(a)); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(SheetName, fmt.Sprintf("F%d", row), totals[a]); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(SheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("F%d", row), bold); err != nil {
			return nil, err
		}
		row++
	}

	widths := []float64{16, 16, 10, 18, 18, 10}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Filename names an export for a work order, or for all entries when
// workOrderID is empty.
func Filename(workOrderID string, at time.Time) string {
	if workOrderID == "" {
		return fmt.Sprintf("timesheet_%s.xlsx", at.Format("20060102"))
	}
	return fmt.Sprintf("timesheet_%s_%s.xlsx", workOrderID, at.Format("20060102"))
}
