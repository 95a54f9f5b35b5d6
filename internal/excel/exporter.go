package excel

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/studybot/pkg/models"
)

// ProgressSheet is the name of the exported sheet
const ProgressSheet = "Progress"

const timeLayout = "2006-01-02 15:04"

var progressHeader = []interface{}{"Item", "Status", "Streak", "Accuracy", "Next review", "Last studied"}

// ExportProgress writes a learner snapshot to an .xlsx file at path
func ExportProgress(path string, records []models.ProgressRecord, loc *time.Location) error {
	f, err := buildWorkbook(records, loc)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// WriteProgress writes a learner snapshot as an .xlsx workbook to w
func WriteProgress(w io.Writer, records []models.ProgressRecord, loc *time.Location) error {
	f, err := buildWorkbook(records, loc)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(records []models.ProgressRecord, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), ProgressSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := f.SetSheetRow(ProgressSheet, "A1", &progressHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, rec := range records {
		lastStudied := ""
		if rec.LastStudiedAt != nil {
			lastStudied = rec.LastStudiedAt.In(loc).Format(timeLayout)
		}
		row := []interface{}{
			rec.ItemID,
			string(rec.Status),
			rec.Streak,
			rec.Accuracy,
			rec.NextReviewAt.In(loc).Format(timeLayout),
			lastStudied,
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(ProgressSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	return f, nil
}
