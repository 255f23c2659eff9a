// Package export writes XLSX snapshots of the sync state for operators
// who want to eyeball the catalog outside of the API.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"metasync/internal/config"
	"metasync/internal/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Sync Records"

type Exporter struct {
	store  domain.SyncStore
	config config.ExportConfig
	logger zerolog.Logger
}

func NewExporter(store domain.SyncStore, cfg config.ExportConfig, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		store:  store,
		config: cfg,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// ExportSyncRecords writes the full sync record set to an XLSX file and
// returns its path.
func (e *Exporter) ExportSyncRecords(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.config.Path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	records, err := e.store.GetAllSyncRecords(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load sync records: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"Product ID", "Retailer ID", "External ID", "Status",
		"Last Synced", "Last Error", "Retry Count", "Deleted", "Updated",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, record := range records {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), record.ProductID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), record.RetailerID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), record.ExternalID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), record.Status)
		if record.LastSyncedAt != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), record.LastSyncedAt.Format("02.01.2006 15:04"))
		}
		if record.LastError != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), *record.LastError)
		}
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), record.RetryCount)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), boolToYesNo(record.IsDeleted))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), record.UpdatedAt.Format("02.01.2006 15:04"))
	}

	_ = f.SetColWidth(sheetName, "A", "C", 24)
	_ = f.SetColWidth(sheetName, "D", "D", 12)
	_ = f.SetColWidth(sheetName, "E", "F", 28)
	_ = f.SetColWidth(sheetName, "G", "I", 12)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("sync_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.config.Path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("failed to save export file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("records", len(records)).Msg("Sync export created")
	return filePath, nil
}

func boolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
