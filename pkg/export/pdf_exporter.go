package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// Landscape A4 body width with 10mm margins.
const pdfBodyWidth = 277.0

// PDFExporter renders datasets into a tabular PDF. Pages are landscape
// because audit rows carry many columns.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, data.Title, "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	widths := columnWidths(data)

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, header := range data.Headers {
		pdf.CellFormat(widths[i], 8, header, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for i, header := range data.Headers {
			pdf.CellFormat(widths[i], 7, row[header], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths normalizes the dataset weights to the printable width,
// falling back to even columns when weights are missing or malformed.
func columnWidths(data Dataset) []float64 {
	n := len(data.Headers)
	widths := make([]float64, n)

	if len(data.Widths) == n {
		total := 0.0
		for _, w := range data.Widths {
			if w > 0 {
				total += w
			}
		}
		if total > 0 {
			for i, w := range data.Widths {
				if w <= 0 {
					w = total / float64(n)
				}
				widths[i] = pdfBodyWidth * w / total
			}
			return widths
		}
	}

	for i := range widths {
		widths[i] = pdfBodyWidth / float64(n)
	}
	return widths
}
