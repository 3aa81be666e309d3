package stocktake

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/podworks/podworks/internal/products"
)

type memoryRepo struct {
	sessions    map[string]Session
	scans       map[string][]ScanRecord
	resolutions map[string]map[string]ResolutionEntry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions:    map[string]Session{},
		scans:       map[string][]ScanRecord{},
		resolutions: map[string]map[string]ResolutionEntry{},
	}
}

func (r *memoryRepo) InsertSession(ctx context.Context, s Session) error {
	r.sessions[s.ID] = s
	return nil
}

func (r *memoryRepo) GetSession(ctx context.Context, id string) (Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	s.ScannedItems = append([]ScanRecord{}, r.scans[id]...)
	s.ScanCount = len(s.ScannedItems)
	s.Resolutions = map[string]ResolutionEntry{}
	for barcode, entry := range r.resolutions[id] {
		s.Resolutions[barcode] = entry
	}
	return s, nil
}

func (r *memoryRepo) ListSessions(ctx context.Context) ([]Session, error) {
	sessions := []Session{}
	for id := range r.sessions {
		s, _ := r.GetSession(ctx, id)
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.After(sessions[j].StartedAt) })
	return sessions, nil
}

func (r *memoryRepo) InsertScan(ctx context.Context, sessionID string, rec ScanRecord) error {
	for _, existing := range r.scans[sessionID] {
		if existing.SecurityBarcode == rec.SecurityBarcode {
			return ErrDuplicateScan
		}
	}
	r.scans[sessionID] = append(r.scans[sessionID], rec)
	return nil
}

func (r *memoryRepo) DeleteScan(ctx context.Context, sessionID, barcode string) error {
	scans := r.scans[sessionID]
	for i, existing := range scans {
		if existing.SecurityBarcode == barcode {
			r.scans[sessionID] = append(scans[:i], scans[i+1:]...)
			return nil
		}
	}
	return ErrScanNotFound
}

func (r *memoryRepo) CompleteSession(ctx context.Context, id string, report Report, completedAt time.Time) error {
	s, ok := r.sessions[id]
	if !ok || s.Status != StatusInProgress {
		return ErrInvalidState
	}
	s.Status = StatusCompleted
	s.CompletedAt = &completedAt
	s.Report = &report
	r.sessions[id] = s
	return nil
}

func (r *memoryRepo) DeleteSessionInProgress(ctx context.Context, id string) error {
	s, ok := r.sessions[id]
	if !ok || s.Status != StatusInProgress {
		return ErrInvalidState
	}
	delete(r.sessions, id)
	delete(r.scans, id)
	delete(r.resolutions, id)
	return nil
}

func (r *memoryRepo) UpsertResolution(ctx context.Context, sessionID string, entry ResolutionEntry) (ResolutionEntry, error) {
	if r.resolutions[sessionID] == nil {
		r.resolutions[sessionID] = map[string]ResolutionEntry{}
	}
	entry.UpdatedAt = time.Now().UTC()
	r.resolutions[sessionID][entry.SecurityBarcode] = entry
	return entry, nil
}

func (r *memoryRepo) ListUnresolvedSessions(ctx context.Context, completedBefore time.Time) ([]Session, error) {
	sessions := []Session{}
	for id, s := range r.sessions {
		if s.Status != StatusCompleted || s.Report == nil || s.CompletedAt == nil || !s.CompletedAt.Before(completedBefore) {
			continue
		}
		discrepancies := s.Report.Summary.MissingItemsCount + s.Report.Summary.UnknownItemsCount + s.Report.Summary.WrongStatusCount
		settled := 0
		for _, entry := range r.resolutions[id] {
			if entry.ResolutionStatus == ResolutionResolved || entry.ResolutionStatus == ResolutionWrittenOff {
				settled++
			}
		}
		if discrepancies == 0 || settled >= discrepancies {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

type fakeProducts struct {
	units map[string]products.InventoryUnit
}

func newFakeProducts(units ...products.InventoryUnit) *fakeProducts {
	f := &fakeProducts{units: map[string]products.InventoryUnit{}}
	for _, u := range units {
		f.units[u.SecurityBarcode] = u
	}
	return f
}

func (f *fakeProducts) GetByBarcode(ctx context.Context, barcode string) (products.InventoryUnit, error) {
	u, ok := f.units[barcode]
	if !ok {
		return products.InventoryUnit{}, products.ErrUnitNotFound
	}
	return u, nil
}

func (f *fakeProducts) Lookup(ctx context.Context, barcodes []string) (map[string]products.InventoryUnit, error) {
	lookup := map[string]products.InventoryUnit{}
	for _, barcode := range barcodes {
		if u, ok := f.units[barcode]; ok {
			lookup[barcode] = u
		}
	}
	return lookup, nil
}

func (f *fakeProducts) ListInStock(ctx context.Context) ([]products.InventoryUnit, error) {
	units := []products.InventoryUnit{}
	for _, u := range f.units {
		if products.IsInStock(u.Status) {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].SecurityBarcode < units[j].SecurityBarcode })
	return units, nil
}

func (f *fakeProducts) UpdateStatus(ctx context.Context, in products.UpdateStatusInput) (products.StatusChange, error) {
	u, ok := f.units[products.NormalizeBarcode(in.SecurityBarcode)]
	if !ok {
		return products.StatusChange{}, products.ErrUnitNotFound
	}
	change := products.StatusChange{UnitID: u.ID, FromStatus: u.Status, ToStatus: in.NewStatus, Reason: in.Reason}
	u.Status = in.NewStatus
	f.units[u.SecurityBarcode] = u
	return change, nil
}

type recordingNotifier struct {
	sessions []Session
	err      error
}

func (n *recordingNotifier) ReportCompleted(ctx context.Context, session Session) error {
	n.sessions = append(n.sessions, session)
	return n.err
}

func newTestService(repo *memoryRepo, catalog *fakeProducts, notifier Notifier) *Service {
	svc := NewService(nil, repo, catalog, nil, notifier)
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.WithNow(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return svc
}

func TestStartRequiresName(t *testing.T) {
	svc := newTestService(newMemoryRepo(), newFakeProducts(), nil)
	_, err := svc.Start(context.Background(), StartInput{Name: "   "})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestScanNormalizesAndSnapshots(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock, ProductName: "Left Bud", Generation: "2nd"},
	)
	svc := newTestService(newMemoryRepo(), catalog, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "Q4 count"})
	require.NoError(t, err)

	rec, err := svc.Scan(ctx, session.ID, "  pw-001 ")
	require.NoError(t, err)
	require.Equal(t, "PW-001", rec.SecurityBarcode)
	require.True(t, rec.FoundInDatabase)
	require.NotNil(t, rec.Status)
	require.Equal(t, products.StatusInStock, *rec.Status)

	// Unknown barcodes are recorded too; classification happens on complete.
	rec, err = svc.Scan(ctx, session.ID, "PW-999")
	require.NoError(t, err)
	require.False(t, rec.FoundInDatabase)
	require.Nil(t, rec.Status)

	_, err = svc.Scan(ctx, session.ID, "PW-001")
	require.ErrorIs(t, err, ErrDuplicateScan)

	_, err = svc.Scan(ctx, session.ID, "   ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestScanUnknownSession(t *testing.T) {
	svc := newTestService(newMemoryRepo(), newFakeProducts(), nil)
	_, err := svc.Scan(context.Background(), "nope", "PW-001")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCompleteBuildsAndFreezesReport(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock, ProductName: "Left Bud"},
		products.InventoryUnit{SecurityBarcode: "PW-002", Status: products.StatusActive, ProductName: "Right Bud"},
		products.InventoryUnit{SecurityBarcode: "PW-003", Status: products.StatusInStock, ProductName: "Case"},
		products.InventoryUnit{SecurityBarcode: "PW-500", Status: products.StatusSold, ProductName: "Sold Bud"},
	)
	repo := newMemoryRepo()
	notifier := &recordingNotifier{}
	svc := newTestService(repo, catalog, notifier)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "Q4 count"})
	require.NoError(t, err)
	for _, barcode := range []string{"PW-001", "PW-002", "PW-500", "PW-999"} {
		_, err := svc.Scan(ctx, session.ID, barcode)
		require.NoError(t, err)
	}

	report, err := svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 4, report.Summary.TotalScanned)
	require.Equal(t, 3, report.Summary.ExpectedInStock)
	require.Equal(t, 2, report.Summary.FoundItems)
	require.Equal(t, 1, report.Summary.MissingItemsCount)
	require.Equal(t, 1, report.Summary.UnknownItemsCount)
	require.Equal(t, 1, report.Summary.WrongStatusCount)
	require.InDelta(t, 66.67, report.Summary.AccuracyPercentage, 0.0001)

	stored, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.Report)

	require.Len(t, notifier.sessions, 1)
	require.Equal(t, session.ID, notifier.sessions[0].ID)

	// Completion is once only.
	_, err = svc.Complete(ctx, session.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	// A frozen session rejects further scans and scan removals.
	_, err = svc.Scan(ctx, session.ID, "PW-003")
	require.ErrorIs(t, err, ErrInvalidState)
	err = svc.RemoveScan(ctx, session.ID, "PW-001")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteRejectsEmptyScanSet(t *testing.T) {
	svc := newTestService(newMemoryRepo(), newFakeProducts(), nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "empty"})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, session.ID)
	require.ErrorIs(t, err, ErrEmptyScanSet)
}

func TestNotifierFailureDoesNotFailCompletion(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock},
	)
	notifier := &recordingNotifier{err: errors.New("queue down")}
	svc := newTestService(newMemoryRepo(), catalog, notifier)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "count"})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "PW-001")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, session.ID)
	require.NoError(t, err)
}

func TestCancelDeletesInProgressOnly(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock},
	)
	svc := newTestService(newMemoryRepo(), catalog, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "abandoned"})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, session.ID))
	_, err = svc.Get(ctx, session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	session, err = svc.Start(ctx, StartInput{Name: "kept"})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "PW-001")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Cancel(ctx, session.ID), ErrInvalidState)
}

func TestResolutionLastWriteWinsAndReportUntouched(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock},
		products.InventoryUnit{SecurityBarcode: "PW-002", Status: products.StatusInStock},
	)
	svc := newTestService(newMemoryRepo(), catalog, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "count"})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "PW-001")
	require.NoError(t, err)
	report, err := svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.MissingItemsCount)

	entry, err := svc.SetResolution(ctx, ResolutionInput{
		SessionID:        session.ID,
		SecurityBarcode:  "PW-002",
		DiscrepancyType:  DiscrepancyMissing,
		ResolutionStatus: ResolutionInvestigated,
		Notes:            "checking the repair bench",
	})
	require.NoError(t, err)
	require.Equal(t, ResolutionInvestigated, entry.ResolutionStatus)

	entry, err = svc.SetResolution(ctx, ResolutionInput{
		SessionID:        session.ID,
		SecurityBarcode:  "PW-002",
		DiscrepancyType:  DiscrepancyMissing,
		ResolutionStatus: ResolutionWrittenOff,
		Notes:            "gone for good",
	})
	require.NoError(t, err)
	require.Equal(t, ResolutionWrittenOff, entry.ResolutionStatus)

	stored, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Resolutions, 1)
	require.Equal(t, "gone for good", stored.Resolutions["PW-002"].Notes)
	// The frozen report never absorbs resolutions.
	require.Equal(t, 1, stored.Report.Summary.MissingItemsCount)

	_, err = svc.SetResolution(ctx, ResolutionInput{
		SessionID:        session.ID,
		SecurityBarcode:  "PW-002",
		DiscrepancyType:  "bogus",
		ResolutionStatus: ResolutionResolved,
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestResolutionOutsideDiscrepancyLists(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock},
	)
	svc := newTestService(newMemoryRepo(), catalog, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "count"})
	require.NoError(t, err)

	// Resolutions may be attached while the session is still in progress.
	entry, err := svc.SetResolution(ctx, ResolutionInput{
		SessionID:        session.ID,
		SecurityBarcode:  "PW-800",
		DiscrepancyType:  DiscrepancyUnknown,
		ResolutionStatus: ResolutionPending,
		Notes:            "flagged mid-count",
	})
	require.NoError(t, err)
	require.Equal(t, "PW-800", entry.SecurityBarcode)

	_, err = svc.Scan(ctx, session.ID, "PW-001")
	require.NoError(t, err)
	report, err := svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, report.Summary.MissingItemsCount)
	require.Equal(t, 0, report.Summary.UnknownItemsCount)
	require.Equal(t, 0, report.Summary.WrongStatusCount)

	// A barcode absent from every discrepancy list is still annotatable; the
	// entry saves without membership checks.
	entry, err = svc.SetResolution(ctx, ResolutionInput{
		SessionID:        session.ID,
		SecurityBarcode:  "PW-001",
		DiscrepancyType:  DiscrepancyWrongStatus,
		ResolutionStatus: ResolutionResolved,
		Notes:            "double-checked on the shelf",
	})
	require.NoError(t, err)
	require.Equal(t, ResolutionResolved, entry.ResolutionStatus)

	stored, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Resolutions, 2)
	require.Equal(t, "flagged mid-count", stored.Resolutions["PW-800"].Notes)
	require.Equal(t, "double-checked on the shelf", stored.Resolutions["PW-001"].Notes)
}

func TestListUnresolvedDropsSettledSessions(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock},
		products.InventoryUnit{SecurityBarcode: "PW-002", Status: products.StatusInStock},
	)
	svc := newTestService(newMemoryRepo(), catalog, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartInput{Name: "stale"})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "PW-001")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, session.ID)
	require.NoError(t, err)

	stale, err := svc.ListUnresolved(ctx, -time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	_, err = svc.SetResolution(ctx, ResolutionInput{
		SessionID:        session.ID,
		SecurityBarcode:  "PW-002",
		DiscrepancyType:  DiscrepancyMissing,
		ResolutionStatus: ResolutionResolved,
	})
	require.NoError(t, err)

	stale, err = svc.ListUnresolved(ctx, -time.Hour)
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestUpdateProductStatusDelegates(t *testing.T) {
	catalog := newFakeProducts(
		products.InventoryUnit{SecurityBarcode: "PW-001", Status: products.StatusInStock},
	)
	svc := newTestService(newMemoryRepo(), catalog, nil)

	change, err := svc.UpdateProductStatus(context.Background(), UpdateProductStatusInput{
		SecurityBarcode: "pw-001",
		NewStatus:       products.StatusSold,
		Reason:          "sold during count",
	})
	require.NoError(t, err)
	require.Equal(t, products.StatusInStock, change.FromStatus)
	require.Equal(t, products.StatusSold, change.ToStatus)

	_, err = svc.UpdateProductStatus(context.Background(), UpdateProductStatusInput{
		SecurityBarcode: "PW-404",
		NewStatus:       products.StatusSold,
	})
	require.ErrorIs(t, err, products.ErrUnitNotFound)
}
