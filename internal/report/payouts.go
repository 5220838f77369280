// Package report выгружает леджер выплат для бухгалтерии.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mmeshcher/referral-ledger/internal/model"
)

const payoutsSheet = "Payouts"

var payoutHeaders = []string{
	"ID", "Owner", "Referral ID", "Amount", "Currency", "Status",
	"Transfer", "Payout", "Failure code", "Failure message", "Source", "Created", "Updated",
}

// WritePayouts записывает события выплат в книгу XLSX.
func WritePayouts(w io.Writer, events []model.PayoutEvent) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(payoutsSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	for i, h := range payoutHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(payoutsSheet, cell, h); err != nil {
			return fmt.Errorf("set header: %w", err)
		}
	}

	for i, ev := range events {
		row := []any{
			ev.ID,
			ev.OwnerID,
			deref64(ev.ReferralID),
			ev.Amount.InexactFloat64(),
			ev.Currency,
			string(ev.Status),
			deref(ev.TransferRef),
			deref(ev.PayoutRef),
			deref(ev.FailureCode),
			deref(ev.FailureMessage),
			ev.Metadata["source"],
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.UpdatedAt.UTC().Format(time.RFC3339),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(payoutsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func deref64(v *int64) any {
	if v == nil {
		return ""
	}
	return *v
}
