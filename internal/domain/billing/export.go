package billing

import (
	"bytes"
	"context"
	"fmt"

	"github.com/360EntSecGroup-Skylar/excelize"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// exportLimit caps the rows of one payments workbook. Larger exports must
// be narrowed with filters such as from and to.
var exportLimit = 10000

const paymentsSheet = "Payments"

var exportHeaders = []string{"Paid at", "Patient", "Target", "Amount", "Method", "Status", "Reference", "Voided at"}

// ExportPayments writes the payments matching params to an xlsx workbook.
func (s *Service) ExportPayments(ctx context.Context, params map[string]string, sort string) ([]byte, error) {
	items, total, err := s.payments.Search(ctx, params, sort, exportLimit, 0)
	if err != nil {
		return nil, err
	}
	if total > exportLimit {
		return nil, apperr.Validation("%d payments match, at most %d can be exported at once; narrow the period", total, exportLimit)
	}

	file := excelize.NewFile()
	idx := file.NewSheet(paymentsSheet)
	file.DeleteSheet("Sheet1")
	file.SetActiveSheet(idx)
	for i, h := range exportHeaders {
		file.SetCellValue(paymentsSheet, cell(i, 1), h)
	}
	for n, p := range items {
		row := n + 2
		kind, id := p.Target()
		file.SetCellValue(paymentsSheet, cell(0, row), p.PaidAt.Format("2006-01-02 15:04"))
		file.SetCellValue(paymentsSheet, cell(1, row), deref(p.PatientName))
		file.SetCellValue(paymentsSheet, cell(2, row), kind+" "+id.String())
		file.SetCellValue(paymentsSheet, cell(3, row), p.Amount)
		file.SetCellValue(paymentsSheet, cell(4, row), p.Method)
		file.SetCellValue(paymentsSheet, cell(5, row), p.Status)
		file.SetCellValue(paymentsSheet, cell(6, row), deref(p.Reference))
		if p.VoidedAt != nil {
			file.SetCellValue(paymentsSheet, cell(7, row), p.VoidedAt.Format("2006-01-02 15:04"))
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write payments workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// cell returns the A1-style name of a zero-based column and 1-based row.
func cell(col, row int) string {
	return fmt.Sprintf("%c%d", 'A'+col, row)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
