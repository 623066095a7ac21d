package export

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	vocabapp "eqas-cloud/internal/vocab/application"
)

const (
	summarySheet = "summary"
	idsPerLine   = 12
)

type section struct {
	title string
	ids   []int64
}

func sections(report vocabapp.IntegrityReport) []section {
	return []section{
		{title: "Vocabularies without primary", ids: report.VocabulariesWithoutPrimary},
		{title: "Vocabularies without topics", ids: report.VocabulariesWithoutMappings},
		{title: "Topics without vocabularies", ids: report.TopicsWithoutMappings},
	}
}

func sheetName(title string) string {
	return strings.ToLower(strings.ReplaceAll(title, " ", "_"))
}

func status(report vocabapp.IntegrityReport) string {
	if report.Healthy {
		return "healthy"
	}
	return "violations found"
}

// BuildIntegrityReportPDF renders the integrity report as a PDF.
func BuildIntegrityReportPDF(report vocabapp.IntegrityReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Vocabulary Topic Mapping Integrity Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Checked: %s", report.CheckedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", status(report)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(90, 6, "Diagnostic", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Count", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range sections(report) {
		pdf.CellFormat(90, 6, s.title, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, strconv.Itoa(len(s.ids)), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	for _, s := range sections(report) {
		if len(s.ids) == 0 {
			continue
		}
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, s.title)
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 9)
		for start := 0; start < len(s.ids); start += idsPerLine {
			end := start + idsPerLine
			if end > len(s.ids) {
				end = len(s.ids)
			}
			pdf.Cell(0, 5, joinIDs(s.ids[start:end]))
			pdf.Ln(5)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildIntegrityReportXLSX renders the integrity report as a workbook with a
// summary sheet and one sheet per diagnostic set.
func BuildIntegrityReportXLSX(report vocabapp.IntegrityReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Vocabulary Topic Mapping Integrity Report")
	_ = f.SetCellValue(summarySheet, "A3", "Checked")
	_ = f.SetCellValue(summarySheet, "B3", report.CheckedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Status")
	_ = f.SetCellValue(summarySheet, "B4", status(report))

	for i, s := range sections(report) {
		row := i + 6
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), s.title)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), len(s.ids))

		name := sheetName(s.title)
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		_ = f.SetCellValue(name, "A1", "ID")
		for j, id := range s.ids {
			_ = f.SetCellValue(name, fmt.Sprintf("A%d", j+2), id)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
