package modem

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"telecom-domainselection/internal/telephony"
)

var ErrUnknownScan = errors.New("modem: unknown or finished scan")

type scan struct {
	id        string
	req       telephony.ScanRequest
	createdAt time.Time
	onResult  func(telephony.RegistrationResult)
	stop      func() bool
}

// PendingScan is a scan waiting for results from the radio layer.
type PendingScan struct {
	ID        string                        `json:"id"`
	SlotID    int                           `json:"slot_id"`
	Networks  []telephony.AccessNetworkType `json:"networks"`
	ScanType  telephony.ScanType            `json:"scan_type"`
	Reset     bool                          `json:"reset"`
	CreatedAt time.Time                     `json:"created_at"`
}

// RequestScan records the request for the radio layer to pick up through
// PendingScans. Results are delivered with DeliverScanResult until the scan is
// cancelled or ctx is done.
func (b *Bridge) RequestScan(ctx context.Context, req telephony.ScanRequest, onResult func(telephony.RegistrationResult)) (func(), error) {
	if onResult == nil {
		return nil, errors.New("modem: scan result handler is required")
	}
	b.mu.Lock()
	if req.SlotID < 0 || req.SlotID >= len(b.sims) {
		b.mu.Unlock()
		return nil, ErrInvalidSlot
	}
	s := &scan{
		id:        uuid.NewString(),
		req:       req,
		createdAt: time.Now().UTC(),
		onResult:  onResult,
	}
	cancel := func() { b.finishScan(s.id) }
	b.scans[s.id] = s
	s.stop = context.AfterFunc(ctx, cancel)
	b.mu.Unlock()

	b.log.Info("network scan requested", "scan_id", s.id, "slot", req.SlotID,
		"networks", len(req.Networks), "scan_type", req.ScanType.String(), "reset", req.Reset)
	return cancel, nil
}

func (b *Bridge) finishScan(id string) {
	b.mu.Lock()
	s, ok := b.scans[id]
	delete(b.scans, id)
	b.mu.Unlock()
	if ok {
		s.stop()
	}
}

// PendingScans lists outstanding scans, oldest first.
func (b *Bridge) PendingScans() []PendingScan {
	b.mu.Lock()
	out := make([]PendingScan, 0, len(b.scans))
	for _, s := range b.scans {
		out = append(out, PendingScan{
			ID:        s.id,
			SlotID:    s.req.SlotID,
			Networks:  append([]telephony.AccessNetworkType(nil), s.req.Networks...),
			ScanType:  s.req.ScanType,
			Reset:     s.req.Reset,
			CreatedAt: s.createdAt,
		})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeliverScanResult hands a registration result to the scan's requester.
// The scan stays open; the requester cancels it once it has what it needs.
func (b *Bridge) DeliverScanResult(id string, res telephony.RegistrationResult) error {
	b.mu.Lock()
	s, ok := b.scans[id]
	b.mu.Unlock()
	if !ok {
		return ErrUnknownScan
	}
	b.log.Info("network scan result", "scan_id", id, "slot", s.req.SlotID, "result", res.String())
	s.onResult(res)
	return nil
}
