package reports

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kausaltech/kausal-watch-sub001/internal/revisions"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// ExportXLSX renders a report as one worksheet: a header row of column
// labels followed by one row per snapshotted action. Cell styles come
// from each field block and are created once per export.
func (s *Service) ExportXLSX(ctx context.Context, reportID string) ([]byte, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	reportType, err := s.store.GetReportType(ctx, report.TypeID)
	if err != nil {
		return nil, err
	}
	fields, err := s.FieldsForReport(ctx, report)
	if err != nil {
		return nil, err
	}
	blocks, err := BlocksForFields(fields)
	if err != nil {
		return nil, err
	}
	data, err := s.LoadFieldData(ctx, reportType.PlanID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.ListActionSnapshots(ctx, reportID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := report.Name
	if sheet == "" {
		sheet = "Report"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	headers := []string{"Action"}
	for _, block := range blocks {
		headers = append(headers, block.ColumnLabel())
	}
	headers = append(headers, "Marked as complete at", "Marked as complete by")
	for col, label := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, label); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, snap := range snaps {
		row := i + 2
		version, err := s.store.GetVersion(ctx, snap.ActionVersionID)
		if err != nil {
			return nil, fmt.Errorf("load version for snapshot %s: %w", snap.ID, err)
		}
		action, err := revisions.DecodeActionVersion(version)
		if err != nil {
			return nil, err
		}

		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetCellValue(sheet, cell, action.Identifier+" "+action.Name); err != nil {
			return nil, fmt.Errorf("write action cell: %w", err)
		}

		for j, block := range blocks {
			cell, err := excelize.CoordinatesToCellName(j+2, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, block.ValueForSnapshot(action, data)); err != nil {
				return nil, fmt.Errorf("write field cell: %w", err)
			}
			styleID, err := block.XLSXCellStyle(f)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellStyle(sheet, cell, cell, styleID); err != nil {
				return nil, fmt.Errorf("style field cell: %w", err)
			}
		}

		completedAt, completedBy, err := s.completionInfo(ctx, snap)
		if err != nil {
			return nil, err
		}
		cell, _ = excelize.CoordinatesToCellName(len(blocks)+2, row)
		if err := f.SetCellValue(sheet, cell, completedAt); err != nil {
			return nil, fmt.Errorf("write completed-at cell: %w", err)
		}
		cell, _ = excelize.CoordinatesToCellName(len(blocks)+3, row)
		if err := f.SetCellValue(sheet, cell, completedBy); err != nil {
			return nil, fmt.Errorf("write completed-by cell: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return bytesOf(buf), nil
}

func (s *Service) completionInfo(ctx context.Context, snap store.ActionSnapshot) (string, string, error) {
	version, err := s.store.GetVersion(ctx, snap.ActionVersionID)
	if err != nil {
		return "", "", err
	}
	rev, err := s.store.GetRevision(ctx, version.RevisionID)
	if err != nil {
		return "", "", err
	}
	by := ""
	if rev.UserID != nil {
		user, err := s.store.GetUser(ctx, *rev.UserID)
		if err == nil {
			by = user.Email
		}
	}
	return snap.CreatedAt.Format("2006-01-02 15:04"), by, nil
}

func bytesOf(buf *bytes.Buffer) []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
