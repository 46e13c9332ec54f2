// Package export writes the calendar and the waiting queue to an Excel workbook.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"concierge/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetSchedule = "Schedule"
	SheetQueue    = "Queue"
)

// WriteSchedule создает Excel файл с расписанием и очередью и возвращает путь к нему
func WriteSchedule(dir string, queue []models.QueueEntry, appointments []models.Appointment, generatedAt time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetSchedule)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(SheetQueue); err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	if err := writeAppointments(f, appointments, headerStyle); err != nil {
		return "", err
	}
	if err := writeQueue(f, queue, headerStyle); err != nil {
		return "", err
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("schedule_%s.xlsx", generatedAt.Format("2006-01-02_150405"))
	filePath := filepath.Join(dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return filePath, nil
}

func writeAppointments(f *excelize.File, appointments []models.Appointment, headerStyle int) error {
	sorted := append([]models.Appointment(nil), appointments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	headers := []any{"Date", "Start", "End", "Minutes", "Title", "Queue entry", "ID"}
	if err := f.SetSheetRow(SheetSchedule, "A1", &headers); err != nil {
		return fmt.Errorf("write schedule header: %w", err)
	}
	_ = f.SetCellStyle(SheetSchedule, "A1", "G1", headerStyle)

	for i, a := range sorted {
		source := ""
		if a.SourceQueueEntryID != nil {
			source = fmt.Sprintf("%d", *a.SourceQueueEntryID)
		}
		row := []any{
			a.Start.Format("2006-01-02"),
			a.Start.Format("15:04"),
			a.End.Format("15:04"),
			int(a.End.Sub(a.Start).Minutes()),
			a.Title,
			source,
			a.ID,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetSchedule, cell, &row); err != nil {
			return fmt.Errorf("write appointment %s: %w", a.ID, err)
		}
	}

	_ = f.SetColWidth(SheetSchedule, "A", "D", 12)
	_ = f.SetColWidth(SheetSchedule, "E", "E", 30)
	_ = f.SetColWidth(SheetSchedule, "F", "G", 38)
	return nil
}

func writeQueue(f *excelize.File, queue []models.QueueEntry, headerStyle int) error {
	headers := []any{"Position", "ID", "Name", "Estimated minutes"}
	if err := f.SetSheetRow(SheetQueue, "A1", &headers); err != nil {
		return fmt.Errorf("write queue header: %w", err)
	}
	_ = f.SetCellStyle(SheetQueue, "A1", "D1", headerStyle)

	for i, e := range queue {
		row := []any{i + 1, e.ID, e.Name, e.EstimatedDurationMinutes}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetQueue, cell, &row); err != nil {
			return fmt.Errorf("write queue entry %d: %w", e.ID, err)
		}
	}

	_ = f.SetColWidth(SheetQueue, "C", "C", 30)
	_ = f.SetColWidth(SheetQueue, "D", "D", 18)
	return nil
}
