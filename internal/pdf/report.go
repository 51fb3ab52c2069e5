package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olgkv/cyclecount/internal/domain"

	"github.com/jung-kurt/gofpdf"
)

// BuildCountReport renders one section per task: status, progress and the
// count state of every asset.
func BuildCountReport(tasks []domain.Task) ([]byte, error) {
	p := gofpdf.New("P", "mm", "A4", "")
	tr := p.UnicodeTranslatorFromDescriptor("")
	p.AddPage()
	p.SetFont("Arial", "B", 14)

	p.Cell(40, 10, "Cycle count report")
	p.Ln(12)

	for _, t := range tasks {
		progress := t.Progress()

		p.SetFont("Arial", "B", 12)
		p.Cell(40, 10, tr(fmt.Sprintf("Task %s - %s", t.ID, t.Name)))
		p.Ln(8)

		p.SetFont("Arial", "", 10)
		status := string(t.Status)
		if t.CompletedAt != nil {
			status += " at " + t.CompletedAt.Format(time.RFC3339)
		}
		p.Cell(40, 6, tr(fmt.Sprintf("Location: %s   Status: %s", t.Location, status)))
		p.Ln(6)
		p.Cell(40, 6, fmt.Sprintf("Counted %d of %d (%d%%), location mismatches: %d",
			progress.Counted, progress.Total, progress.Percent, progress.LocationMismatches))
		p.Ln(8)

		for _, a := range t.Assets {
			mark := "pending"
			if a.Counted {
				mark = "counted"
			}
			p.Cell(40, 6, tr(fmt.Sprintf("%s  %s  [%s]  %s - %s", a.ID, a.Name, a.Barcode, a.Location, mark)))
			p.Ln(6)
		}
		p.Ln(4)
	}

	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
