package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"syncqueue/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Queue"

var headers = []string{"#", "Msg ID", "Type", "Priority", "Items", "Enqueued At", "Method", "URL", "Publish Result", "Request"}

// RowSource lists the persisted queue rows.
type RowSource interface {
	Seed(ctx context.Context) ([]models.QueueRow, error)
}

// Exporter writes a snapshot of the pending queue to an xlsx workbook.
type Exporter struct {
	source RowSource
	logger zerolog.Logger
	now    func() time.Time
}

func NewExporter(source RowSource, logger *zerolog.Logger) *Exporter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{source: source, logger: l, now: time.Now}
}

// Export writes rows in delivery order and returns how many were written.
// Rows whose request cannot be decoded are kept and marked as such.
func (e *Exporter) Export(ctx context.Context, path string) (int, error) {
	rows, err := e.source.Seed(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue rows: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Less(rows[j]) })

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create export directory: %w", err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return 0, fmt.Errorf("create sheet: %w", err)
	}

	if err := writeHeader(f, e.now()); err != nil {
		return 0, err
	}
	for i, row := range rows {
		if err := writeRow(f, i+3, i+1, row); err != nil {
			return 0, err
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 6)
	_ = f.SetColWidth(sheetName, "B", "B", 38)
	_ = f.SetColWidth(sheetName, "C", "G", 16)
	_ = f.SetColWidth(sheetName, "H", "H", 40)
	_ = f.SetColWidth(sheetName, "I", "I", 16)
	_ = f.SetColWidth(sheetName, "J", "J", 80)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 2, TopLeftCell: "A3", ActivePane: "bottomLeft"})

	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}

	e.logger.Info().Str("file_path", path).Int("rows", len(rows)).Msg("queue exported")
	return len(rows), nil
}

func writeHeader(f *excelize.File, at time.Time) error {
	if err := f.SetCellValue(sheetName, "A1", fmt.Sprintf("Pending queue as of %s", at.Format(time.RFC3339))); err != nil {
		return err
	}
	_ = f.MergeCell(sheetName, "A1", "J1")
	title, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", title)

	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 2)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
	return nil
}

func writeRow(f *excelize.File, line, order int, row models.QueueRow) error {
	values := []any{order, row.MsgID, row.Type, row.Priority, row.ItemCount, "", "", "", "", row.Request}
	if row.Timestamp > 0 {
		values[5] = time.UnixMilli(row.Timestamp).UTC().Format("2006-01-02 15:04:05")
	}

	entry, err := models.EntryFromRow(row)
	if err != nil {
		values[2] = "undecodable"
	} else {
		values[2] = string(entry.Type)
		values[6] = entry.Request.Method()
		values[7] = entry.Request.URL()
		values[8] = entry.Config.ShouldPublishResult
	}

	cell, _ := excelize.CoordinatesToCellName(1, line)
	return f.SetSheetRow(sheetName, cell, &values)
}
