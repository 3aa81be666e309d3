package stocktake

import (
	"math"
	"sort"
	"time"

	"github.com/podworks/podworks/internal/products"
)

// Classify reconciles the expected in-stock snapshot against the scanned set
// and produces the discrepancy report. expected holds every unit whose status
// is in the in-stock allowlist at completion time; lookup maps each scanned
// barcode to its current inventory unit, when one exists.
//
// The pass is deterministic for the same inputs: missing items are ordered by
// barcode, unknown and wrong-status items keep scan order. Classification is
// disjoint by construction:
//   - expected but not scanned   -> missing
//   - scanned, no matching unit  -> unknown
//   - scanned, unit not in stock -> wrong_status
//   - scanned, unit in stock     -> found
func Classify(expected []products.InventoryUnit, lookup map[string]products.InventoryUnit, scans []ScanRecord, generatedAt time.Time) Report {
	scanned := make(map[string]bool, len(scans))
	for _, scan := range scans {
		scanned[scan.SecurityBarcode] = true
	}

	missing := []MissingItem{}
	for _, unit := range expected {
		if !scanned[unit.SecurityBarcode] {
			missing = append(missing, MissingItem{
				SecurityBarcode: unit.SecurityBarcode,
				Status:          unit.Status,
				ProductName:     unit.ProductName,
				Generation:      unit.Generation,
			})
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		return missing[i].SecurityBarcode < missing[j].SecurityBarcode
	})

	unknown := []ScanRecord{}
	wrongStatus := []ScanRecord{}
	found := 0
	for _, scan := range scans {
		unit, ok := lookup[scan.SecurityBarcode]
		if !ok {
			scan.FoundInDatabase = false
			scan.Status = nil
			unknown = append(unknown, scan)
			continue
		}
		// Refresh the snapshot so the frozen report reflects the state the
		// classification was made against.
		scan.FoundInDatabase = true
		status := unit.Status
		scan.Status = &status
		if !products.IsInStock(unit.Status) {
			wrongStatus = append(wrongStatus, scan)
			continue
		}
		found++
	}

	summary := Summary{
		TotalScanned:       len(scans),
		ExpectedInStock:    len(expected),
		FoundItems:         found,
		MissingItemsCount:  len(missing),
		UnknownItemsCount:  len(unknown),
		WrongStatusCount:   len(wrongStatus),
		AccuracyPercentage: accuracy(found, len(expected)),
	}
	return Report{
		Summary:          summary,
		MissingItems:     missing,
		UnknownItems:     unknown,
		WrongStatusItems: wrongStatus,
		GeneratedAt:      generatedAt.UTC(),
	}
}

// accuracy is found/expected expressed as a percentage, rounded to two
// decimals. No expected items means nothing can be missing, so 100.
func accuracy(found, expected int) float64 {
	if expected == 0 {
		return 100
	}
	return round2(float64(found) / float64(expected) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
