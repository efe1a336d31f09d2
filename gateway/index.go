package gateway

import (
	"context"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/types"
)

// persist mirrors the in-memory table into the on-disk index.
func (m *Manager) persist(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]*types.Session, len(m.sessions))
	for k, e := range m.sessions {
		s := e.Session
		snapshot[k] = &s
	}
	m.mu.Unlock()

	if err := m.store.Update(ctx, func(idx *types.SessionIndex) error {
		idx.Sessions = snapshot
		return nil
	}); err != nil {
		log.WithFunc("gateway.persist").Warnf(ctx, "write session index: %v", err)
	}
}

// Reap terminates proxies recorded by a previous server process that are
// still running, then resets the index to the live table. Records whose
// PID now belongs to something other than websockify are dropped without
// signalling.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	logger := log.WithFunc("gateway.Reap")
	var stale []types.Session
	if err := m.store.With(ctx, func(idx *types.SessionIndex) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for name, s := range idx.Sessions {
			if e, ok := m.sessions[name]; ok && e.PID == s.PID {
				continue
			}
			stale = append(stale, *s)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	reaped := 0
	for _, s := range stale {
		if !m.alive(s) || !m.owned(s) {
			continue
		}
		if err := m.terminate(ctx, s.PID); err != nil {
			logger.Warnf(ctx, "reap proxy %d for %s: %v", s.PID, s.VMName, err)
			continue
		}
		logger.Infof(ctx, "reaped orphan display proxy %d for %s", s.PID, s.VMName)
		reaped++
	}
	m.persist(ctx)
	return reaped, nil
}

// closeRecorded stops a proxy known only from the index.
func (m *Manager) closeRecorded(ctx context.Context, vmName string) {
	logger := log.WithFunc("gateway.closeRecorded")
	var rec *types.Session
	if err := m.store.Update(ctx, func(idx *types.SessionIndex) error {
		rec = idx.Sessions[vmName]
		delete(idx.Sessions, vmName)
		return nil
	}); err != nil {
		logger.Warnf(ctx, "update session index: %v", err)
		return
	}
	if rec == nil || !m.alive(*rec) || !m.owned(*rec) {
		return
	}
	if err := m.terminate(ctx, rec.PID); err != nil {
		logger.Warnf(ctx, "terminate proxy %d for %s: %v", rec.PID, vmName, err)
		return
	}
	logger.Infof(ctx, "display proxy %d for %s closed from index", rec.PID, vmName)
}
