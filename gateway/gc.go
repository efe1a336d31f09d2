package gateway

import (
	"context"

	"github.com/projecteru2/hatchery/gc"
	"github.com/projecteru2/hatchery/types"
)

const sessionsModule = "sessions"

// GCModule drops index records whose proxy process has exited.
func (m *Manager) GCModule() gc.Module[map[string]types.Session] {
	return gc.Module[map[string]types.Session]{
		Name:   sessionsModule,
		Locker: m.locker,
		ReadDB: func(context.Context) (map[string]types.Session, error) {
			snap := make(map[string]types.Session)
			err := m.store.Read(func(idx *types.SessionIndex) error {
				for name, s := range idx.Sessions {
					if s != nil {
						snap[name] = *s
					}
				}
				return nil
			})
			return snap, err
		},
		Resolve: func(snap map[string]types.Session, _ map[string]any) []string {
			var dead []string
			for name, s := range snap {
				if !m.alive(s) {
					dead = append(dead, name)
				}
			}
			return dead
		},
		Collect: func(_ context.Context, names []string) error {
			return m.store.Write(func(idx *types.SessionIndex) error {
				for _, name := range names {
					if s := idx.Sessions[name]; s != nil && !m.alive(*s) {
						delete(idx.Sessions, name)
					}
				}
				return nil
			})
		},
	}
}

// RegisterGC registers the session module with orch.
func (m *Manager) RegisterGC(orch *gc.Orchestrator) {
	gc.Register(orch, m.GCModule())
}
