package stocktake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RenderReportText produces the downloadable flat-text rendering of a
// completed session's report with resolutions merged in. It is a pure
// function of the session snapshot: the same input always renders the same
// text.
func RenderReportText(session Session) (string, error) {
	if session.Report == nil {
		return "", ErrReportNotReady
	}
	report := session.Report

	var b strings.Builder
	b.WriteString("STOCK TAKE REPORT\n")
	b.WriteString("=================\n")
	fmt.Fprintf(&b, "Session:   %s (%s)\n", session.Name, session.ID)
	fmt.Fprintf(&b, "Started:   %s\n", session.StartedAt.UTC().Format(time.RFC3339))
	if session.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", session.CompletedAt.UTC().Format(time.RFC3339))
	}
	if session.Notes != "" {
		fmt.Fprintf(&b, "Notes:     %s\n", session.Notes)
	}
	b.WriteString("\nSUMMARY\n")
	fmt.Fprintf(&b, "Total scanned:     %d\n", report.Summary.TotalScanned)
	fmt.Fprintf(&b, "Expected in stock: %d\n", report.Summary.ExpectedInStock)
	fmt.Fprintf(&b, "Found:             %d\n", report.Summary.FoundItems)
	fmt.Fprintf(&b, "Missing:           %d\n", report.Summary.MissingItemsCount)
	fmt.Fprintf(&b, "Unknown:           %d\n", report.Summary.UnknownItemsCount)
	fmt.Fprintf(&b, "Wrong status:      %d\n", report.Summary.WrongStatusCount)
	fmt.Fprintf(&b, "Accuracy:          %s%%\n", strconv.FormatFloat(report.Summary.AccuracyPercentage, 'f', 2, 64))

	fmt.Fprintf(&b, "\nMISSING ITEMS (%d)\n", len(report.MissingItems))
	for _, item := range report.MissingItems {
		fmt.Fprintf(&b, "- %s | %s | status: %s | resolution: %s\n",
			item.SecurityBarcode, describeProduct(item.ProductName, item.Generation), item.Status, describeResolution(session.Resolutions, item.SecurityBarcode))
	}

	fmt.Fprintf(&b, "\nUNKNOWN ITEMS (%d)\n", len(report.UnknownItems))
	for _, scan := range report.UnknownItems {
		fmt.Fprintf(&b, "- %s | scanned %s | resolution: %s\n",
			scan.SecurityBarcode, scan.ScannedAt.UTC().Format(time.RFC3339), describeResolution(session.Resolutions, scan.SecurityBarcode))
	}

	fmt.Fprintf(&b, "\nWRONG STATUS ITEMS (%d)\n", len(report.WrongStatusItems))
	for _, scan := range report.WrongStatusItems {
		status := "unknown"
		if scan.Status != nil {
			status = *scan.Status
		}
		fmt.Fprintf(&b, "- %s | %s | status: %s | resolution: %s\n",
			scan.SecurityBarcode, describeScanProduct(scan), status, describeResolution(session.Resolutions, scan.SecurityBarcode))
	}

	return b.String(), nil
}

// ParseReportSummary reads the SUMMARY block back out of a rendered report.
// Rendering and re-parsing a report reproduces the same summary counts.
func ParseReportSummary(text string) (Summary, error) {
	var summary Summary
	seen := 0
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		var err error
		switch strings.TrimSpace(label) {
		case "Total scanned":
			summary.TotalScanned, err = strconv.Atoi(value)
		case "Expected in stock":
			summary.ExpectedInStock, err = strconv.Atoi(value)
		case "Found":
			summary.FoundItems, err = strconv.Atoi(value)
		case "Missing":
			summary.MissingItemsCount, err = strconv.Atoi(value)
		case "Unknown":
			summary.UnknownItemsCount, err = strconv.Atoi(value)
		case "Wrong status":
			summary.WrongStatusCount, err = strconv.Atoi(value)
		case "Accuracy":
			summary.AccuracyPercentage, err = strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
		default:
			continue
		}
		if err != nil {
			return Summary{}, fmt.Errorf("stocktake: parse summary line %q: %w", line, err)
		}
		seen++
	}
	if seen < 7 {
		return Summary{}, errors.New("stocktake: summary block incomplete")
	}
	return summary, nil
}

func describeProduct(name, generation string) string {
	if name == "" {
		name = "unnamed part"
	}
	if generation == "" {
		return name
	}
	return fmt.Sprintf("%s (gen %s)", name, generation)
}

func describeScanProduct(scan ScanRecord) string {
	name := ""
	generation := ""
	if scan.ProductName != nil {
		name = *scan.ProductName
	}
	if scan.Generation != nil {
		generation = *scan.Generation
	}
	return describeProduct(name, generation)
}

func describeResolution(resolutions map[string]ResolutionEntry, barcode string) string {
	entry, ok := resolutions[barcode]
	if !ok {
		return "none"
	}
	if entry.Notes == "" {
		return string(entry.ResolutionStatus)
	}
	return fmt.Sprintf("%s (%s)", entry.ResolutionStatus, entry.Notes)
}
