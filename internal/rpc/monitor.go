package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/process"
	"github.com/tanq16/extdl/internal/progress"
)

const (
	DefaultSettle   = 200 * time.Millisecond
	DefaultInterval = 100 * time.Millisecond
)

// Snapshot is the aggregated state of one poll.
type Snapshot struct {
	Downloaded    int64
	Total         int64
	Speed         float64
	ETA           *float64
	FragmentIndex int
	Done          bool
}

// Aggregate folds the active and stopped transfers of one poll into a single
// sample. fragmentCount is negative for a single, non-fragmented transfer.
//
// For fragmented tasks only the transfers aria2 has seen carry a known total,
// so the summed total is scaled up to the full fragment count.
func Aggregate(active, stopped []Transfer, fragmentCount int) Snapshot {
	expected := fragmentCount
	if expected < 0 {
		expected = -expected
	}
	var snap Snapshot
	if len(active) == 0 && len(stopped) == expected {
		snap.Done = true
	}
	if fragmentCount < 0 {
		if len(active) == 0 {
			if len(stopped) > 0 {
				snap.Total = stopped[0].Total()
				snap.Downloaded = stopped[0].Completed()
			}
			return snap
		}
		a := active[0]
		snap.Downloaded = a.Completed()
		snap.Total = a.Total()
		snap.Speed = a.Speed()
		if snap.Speed > 0 {
			eta := float64(snap.Total-snap.Downloaded) / snap.Speed
			snap.ETA = &eta
		}
		if len(active) == 1 && snap.Total > 0 && snap.Downloaded == snap.Total {
			snap.Done = true
		}
		return snap
	}

	var known int64
	for _, t := range active {
		known += t.Total()
		snap.Downloaded += t.Completed()
		snap.Speed += t.Speed()
	}
	for _, t := range stopped {
		known += t.Total()
		snap.Downloaded += t.Total()
	}
	seen := int64(len(active) + len(stopped))
	snap.Total = known
	if seen > 0 {
		snap.Total = known * int64(fragmentCount) / seen
	}
	if snap.Speed > 0 {
		eta := float64(snap.Total-snap.Downloaded) / snap.Speed
		snap.ETA = &eta
	}
	snap.FragmentIndex = len(stopped) + len(active)/2
	return snap
}

// Monitor synthesizes progress for the segmented backend by polling its RPC
// endpoint while the process runs.
type Monitor struct {
	Client        *Client
	Reporter      *progress.Reporter
	Filename      string
	FragmentCount int
	Settle        time.Duration
	Interval      time.Duration
}

// Run polls until the transfers are complete, asks the backend to shut down
// and waits for it. A response id mismatch kills the backend and is returned.
func (m *Monitor) Run(ctx context.Context, h *process.Handle) (process.Result, error) {
	settle, interval := m.Settle, m.Interval
	if settle == 0 {
		settle = DefaultSettle
	}
	if interval == 0 {
		interval = DefaultInterval
	}
	started := time.Now()
	status := progress.Status{Filename: m.Filename, State: progress.StateDownloading}
	status.SetDownloaded(0)
	if m.FragmentCount >= 0 {
		status.SetFragments(0, m.FragmentCount)
	}
	m.Reporter.Report(status)

	if !m.pause(ctx, h, settle) {
		return m.finish(ctx, h, status)
	}
	limit := m.FragmentCount
	if limit < 0 {
		limit = -limit
	}
	for !h.Exited() {
		snap, err := m.poll(ctx, limit)
		if errors.Is(err, backend.ErrProtocolMismatch) {
			log.Error().Str("op", "aria2c/rpc").Err(err).Msg("Control channel corrupted, killing backend")
			h.Kill()
			res := h.Wait()
			return res, err
		}
		if err != nil {
			log.Debug().Str("op", "aria2c/rpc").Err(err).Msg("Poll failed")
		} else {
			if snap.Done {
				if snap.Total > 0 {
					status.SetDownloaded(snap.Downloaded)
					status.SetTotal(snap.Total)
				}
				if serr := m.Client.Shutdown(ctx); serr != nil {
					log.Debug().Str("op", "aria2c/rpc").Err(serr).Msg("Shutdown request failed")
				}
				status.Elapsed = time.Since(started).Seconds()
				m.Reporter.Report(status)
				return m.finish(ctx, h, status)
			}
			status.SetDownloaded(snap.Downloaded)
			status.SetTotal(snap.Total)
			status.SetSpeed(snap.Speed)
			status.ETA = snap.ETA
			if m.FragmentCount >= 0 {
				status.SetFragments(snap.FragmentIndex, m.FragmentCount)
			}
		}
		status.Elapsed = time.Since(started).Seconds()
		m.Reporter.Report(status)
		if !m.pause(ctx, h, interval) {
			break
		}
	}
	return m.finish(ctx, h, status)
}

func (m *Monitor) poll(ctx context.Context, limit int) (Snapshot, error) {
	active, err := m.Client.TellActive(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	stopped, err := m.Client.TellStopped(ctx, 0, limit)
	if err != nil {
		return Snapshot{}, err
	}
	return Aggregate(active, stopped, m.FragmentCount), nil
}

// pause sleeps for d and reports false if the process exited or ctx ended.
func (m *Monitor) pause(ctx context.Context, h *process.Handle, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-h.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Monitor) finish(ctx context.Context, h *process.Handle, status progress.Status) (process.Result, error) {
	res, err := h.WaitOrKill(ctx)
	if err == nil && res.ExitCode == 0 {
		status.State = progress.StateFinished
		status.DownloadedBytes = status.TotalBytes
		m.Reporter.Report(status)
	}
	return res, err
}
