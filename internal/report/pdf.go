package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/ch10stream/internal/ch10"
	"example.com/ch10stream/internal/common"
)

const (
	// maxPDFFindings caps the findings listed in a PDF; the JSON report
	// keeps all of them.
	maxPDFFindings = 200

	pdfFont   = "Helvetica"
	qrSideMM  = 32.0
	rowLineMM = 5.0
)

// scanPDF lays out one integrity report on A4 pages.
type scanPDF struct {
	*gofpdf.Fpdf
}

func newScanPDF(title string) scanPDF {
	f := gofpdf.New("P", "mm", "A4", "")
	f.SetTitle(title, false)
	f.SetAuthor("ch10ctl", false)
	f.SetCreator("ch10ctl", false)
	f.SetMargins(15, 20, 15)
	f.SetAutoPageBreak(true, 20)
	f.AddPage()
	return scanPDF{f}
}

// SaveScanPDF renders rep into a PDF document at out.
func SaveScanPDF(rep ScanReport, out string) error {
	const title = "Recording Integrity Report"
	doc := newScanPDF(title)
	doc.SetFont(pdfFont, "B", 18)
	doc.Cell(0, 10, title)
	doc.Ln(12)

	if err := doc.stampQR(rep); err != nil {
		common.Warnf("report: digest QR omitted: %v", err)
	}
	doc.summary(rep)
	doc.channels(rep.Channels)
	doc.findings(rep.Findings)

	if doc.Err() {
		return doc.Error()
	}
	return doc.OutputFileAndClose(out)
}

func (d scanPDF) section(name string) {
	d.SetFont(pdfFont, "B", 12)
	d.Cell(0, 8, name)
	d.Ln(9)
}

// stampQR puts the file identification code in the top right corner of the
// current page.
func (d scanPDF) stampQR(rep ScanReport) error {
	png, err := DigestToQR(rep, qrSize)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	d.RegisterImageOptionsReader("digest-qr", opts, bytes.NewReader(png))
	pageW, _ := d.GetPageSize()
	_, _, right, _ := d.GetMargins()
	d.ImageOptions("digest-qr", pageW-right-qrSideMM, 12, qrSideMM, qrSideMM, false, opts, 0, "")
	return nil
}

func (d scanPDF) summary(rep ScanReport) {
	d.section("Summary")
	d.SetFont(pdfFont, "", 11)
	count := func(n int64) string { return strconv.FormatInt(n, 10) }
	for _, kv := range [][2]string{
		{"File", rep.File},
		{"Size", common.FormatBytes(rep.Size)},
		{"Digest (xxh64)", rep.Digest},
		{"Scanned", rep.ScannedAt.Format(time.RFC3339)},
		{"Packets", count(rep.Packets)},
		{"Resyncs", count(rep.Resyncs)},
		{"Header Checksum Errors", count(rep.HeaderChecksumErrors)},
		{"Payload Errors", count(rep.PayloadErrors)},
		{"Setup Record", yesNo(rep.SetupRecord)},
		{"Embedded Index", yesNo(rep.IndexPresent)},
		{"Time Range", timeRange(rep)},
		{"Overall", verdict(rep.Clean())},
	} {
		d.CellFormat(55, 6, kv[0], "", 0, "L", false, 0, "")
		d.MultiCell(90, 6, orDash(kv[1]), "", "L", false)
	}
	d.Ln(4)
}

var channelColumns = []struct {
	title string
	width float64
}{
	{"ID", 14}, {"Type", 30}, {"Name", 50}, {"Declared", 20},
	{"Packets", 22}, {"Bytes", 22}, {"Span (s)", 22},
}

func (d scanPDF) channels(rows []ChannelSummary) {
	d.section("Channels")
	d.SetFillColor(240, 240, 240)
	d.SetFont(pdfFont, "B", 10)
	for _, col := range channelColumns {
		d.CellFormat(col.width, 7, col.title, "1", 0, "L", true, 0, "")
	}
	d.Ln(-1)

	d.SetFont(pdfFont, "", 9)
	for _, row := range rows {
		d.row(
			strconv.Itoa(int(row.ID)),
			row.DataType,
			row.Name,
			yesNo(row.Declared),
			strconv.FormatInt(row.Packets, 10),
			common.FormatBytes(row.Bytes),
			spanSeconds(row.FirstRelTime, row.LastRelTime),
		)
	}
	d.Ln(4)
}

// row draws one bordered table row whose height fits the tallest wrapped
// cell.
func (d scanPDF) row(cells ...string) {
	left, top := d.GetXY()
	wrapped := make([][]string, len(cells))
	lines := 1
	for i, text := range cells {
		wrapped[i] = d.SplitText(orDash(text), channelColumns[i].width-2)
		lines = max(lines, len(wrapped[i]))
	}
	x := left
	for i, parts := range wrapped {
		d.SetXY(x, top)
		d.MultiCell(channelColumns[i].width, rowLineMM, strings.Join(parts, "\n"), "1", "L", false)
		x += channelColumns[i].width
	}
	d.SetXY(left, top+float64(lines)*rowLineMM)
}

func (d scanPDF) findings(list []Finding) {
	d.section("Findings")
	if len(list) == 0 {
		d.SetFont(pdfFont, "", 11)
		d.MultiCell(0, 6, "No damage found.", "", "L", false)
		return
	}
	shown := list
	if len(shown) > maxPDFFindings {
		shown = shown[:maxPDFFindings]
	}
	for i, f := range shown {
		title := fmt.Sprintf("%d. %s at offset %d", i+1, f.Kind, f.Offset)
		if f.ChannelID != 0 {
			title += fmt.Sprintf(" (channel %d)", f.ChannelID)
		}
		d.SetFont(pdfFont, "B", 10)
		d.MultiCell(0, 5, title, "", "L", false)
		if detail := strings.TrimSpace(f.Detail); detail != "" {
			d.SetFont(pdfFont, "", 9)
			d.MultiCell(0, 4, detail, "", "L", false)
		}
		d.Ln(1)
	}
	if rest := len(list) - len(shown); rest > 0 {
		d.SetFont(pdfFont, "I", 9)
		d.MultiCell(0, 5, fmt.Sprintf("%d more findings in the JSON report.", rest), "", "L", false)
	}
}

func verdict(clean bool) string {
	if clean {
		return "CLEAN"
	}
	return "DAMAGED"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// spanSeconds is the distance between two relative times in seconds.
func spanSeconds(first, last int64) string {
	return strconv.FormatFloat(float64(last-first)/float64(ch10.TicksPerSecond), 'f', 3, 64)
}

func timeRange(rep ScanReport) string {
	if rep.FirstTime == "" {
		return ""
	}
	return rep.FirstTime + " - " + rep.LastTime
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
