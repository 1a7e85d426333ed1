package finance

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/wolfman30/lumen-clinic/internal/notify"
)

// RenderSettlementPDF lays out a Psique month as a one-page A4 statement.
func RenderSettlementPDF(clinicName string, res MonthResult, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle("Liquidacion Psique "+res.Month, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(40, 40, 90)
	pdf.CellFormat(0, 10, tr(clinicName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 7, tr("Liquidación Psique - "+res.Month), "", 1, "C", false, 0, "")
	if res.Professional != "" {
		pdf.CellFormat(0, 7, tr("Profesional: "+res.Professional), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	widths := []float64{80, 25, 40, 35}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 240)
	for i, h := range []string{"Paciente", "Sesiones", "Honorarios", "Psique (25%)"} {
		pdf.CellFormat(widths[i], 8, tr(h), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, p := range res.Patients {
		pdf.CellFormat(widths[0], 7, tr(p.PatientName), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprintf("%d", p.SessionCount), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 7, notify.FormatCents(p.TotalCents), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, notify.FormatCents(p.PsiqueCents), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	if len(res.Patients) == 0 {
		pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3], 7, tr("Sin sesiones para liquidar"), "1", 1, "C", false, 0, "")
	}

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(widths[0]+widths[1]+widths[2], 8, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[3], 8, notify.FormatCents(res.TotalCents), "1", 1, "R", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 9)
	status := "Pendiente de pago"
	if res.IsPaid {
		status = "Pagado el " + res.PaidDate
	}
	pdf.CellFormat(0, 6, tr("Estado: "+status), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generado: "+generatedAt.Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("finance: render settlement pdf: %w", err)
	}
	return buf.Bytes(), nil
}
