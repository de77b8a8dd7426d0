package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

const receiptTimeLayout = "2006-01-02 15:04:05 MST"

func receiptFilename(result *BulkOperationResult, ext string) string {
	return fmt.Sprintf("bulk-%s-%s.%s", result.Action, result.CompletedAt.UTC().Format("20060102-150405"), ext)
}

// buildBulkReceiptPDF renders the outcome of one bulk operation, one line per failed report.
func buildBulkReceiptPDF(result *BulkOperationResult) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 16)
	pdf.Cell(0, 10, "Bulk operation receipt")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	lines := []string{
		"Operation: " + result.OperationID,
		"Action: " + string(result.Action),
		"Performed by: " + result.Actor,
		"Completed: " + result.CompletedAt.UTC().Format(receiptTimeLayout),
	}
	for _, line := range lines {
		pdf.Cell(0, 7, tr(pdfText(line)))
		pdf.Ln(7)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	for _, row := range []struct {
		label string
		count int
	}{
		{"Selected", result.Total},
		{"Updated", result.Successful},
		{"Failed", result.Failed},
		{"Already up to date", result.Skipped},
	} {
		pdf.Cell(60, 6, row.label)
		pdf.Cell(0, 6, strconv.Itoa(row.count))
		pdf.Ln(6)
	}
	pdf.Ln(2)
	pdf.MultiCell(0, 6, tr(pdfText(result.Message)), "", "L", false)

	if len(result.Errors) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.Cell(0, 8, "Failures")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 10)
		for _, item := range result.Errors {
			pdf.MultiCell(0, 6, tr("- "+pdfText(item.Error)), "", "L", false)
		}
	}

	buffer := bytes.NewBuffer(nil)
	if err := pdf.Output(buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// pdfText keeps text inside the core font's Latin-1 range.
func pdfText(s string) string {
	s = strings.ReplaceAll(s, "→", "->")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			r = '?'
		}
		out = append(out, r)
	}
	return string(out)
}

func buildBulkReceiptCSV(result *BulkOperationResult) ([]byte, error) {
	buffer := bytes.NewBuffer(nil)
	writer := csv.NewWriter(buffer)
	rows := [][]string{
		{"operation_id", "action", "actor", "completed_at", "total", "successful", "failed", "skipped"},
		{
			result.OperationID,
			string(result.Action),
			result.Actor,
			result.CompletedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(result.Total),
			strconv.Itoa(result.Successful),
			strconv.Itoa(result.Failed),
			strconv.Itoa(result.Skipped),
		},
		{},
		{"report_id", "error"},
	}
	for _, item := range result.Errors {
		rows = append(rows, []string{strconv.Itoa(item.ReportID), item.Error})
	}
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
