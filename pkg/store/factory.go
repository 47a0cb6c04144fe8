package store

import (
	"github.com/arush/chatcore/pkg/config"
	"github.com/arush/chatcore/pkg/db"
	"github.com/arush/chatcore/pkg/logger"
)

// Open selects the backend once at startup. An unreachable cluster degrades to
// the in-process store instead of failing startup; the chosen kind is exposed
// through Store.Kind for the health surface.
func Open(cfg config.Config) Store {
	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.ScyllaKeyspace); err != nil {
		logger.Log.Warn("scylla unreachable, falling back to in-memory store", "err", err)
		return NewMemory(cfg.MaxMessageLength)
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		logger.Log.Warn("scylla session failed, falling back to in-memory store", "err", err)
		return NewMemory(cfg.MaxMessageLength)
	}
	if err := db.EnsureSchema(session); err != nil {
		logger.Log.Warn("scylla schema setup failed, falling back to in-memory store", "err", err)
		session.Close()
		return NewMemory(cfg.MaxMessageLength)
	}
	return NewScylla(session, cfg.MaxMessageLength)
}
