package app

import (
	"github.com/downlee/downlee/internal/bus"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/infra/config"
	"github.com/downlee/downlee/internal/infra/logger"
	"github.com/downlee/downlee/internal/registry"
	"github.com/downlee/downlee/internal/routing"
	"github.com/downlee/downlee/internal/store"
)

// Context holds the core environment and shared resources: store, bus,
// worker registry, routing table and config, constructed once at startup and
// passed explicitly to every component.
type Context struct {
	Config   *config.Config
	Logger   *logger.Logger
	Store    *store.Store
	Bus      *bus.Bus
	Registry *registry.Registry
	Routing  *routing.Table
}

func NewContext(cfg *config.Config, log *logger.Logger, st *store.Store) *Context {
	return &Context{
		Config:   cfg,
		Logger:   log,
		Store:    st,
		Bus:      bus.New(),
		Registry: registry.New(),
		Routing:  routing.NewTable(st, cfg.Download.Dir, log),
	}
}

// EmitNew broadcasts a freshly created job, followed by refreshed stats.
// Callers persist first; the bus never leads the store.
func (c *Context) EmitNew(job *domain.Job) {
	c.Bus.Publish(bus.TopicNew, job)
	c.emitStats()
}

// EmitStatus broadcasts a status transition for a job. The durable update
// must already be written.
func (c *Context) EmitStatus(externalID string, status domain.Status, errText string) {
	c.Bus.Publish(bus.TopicStatus, bus.StatusEvent{
		ExternalID: externalID,
		Status:     string(status),
		Error:      errText,
	})
	c.emitStats()
}

func (c *Context) EmitProgress(ev bus.ProgressEvent) {
	c.Bus.Publish(bus.TopicProgress, ev)
}

func (c *Context) EmitDeleted(externalID string) {
	c.Bus.Publish(bus.TopicDeleted, bus.DeletedEvent{ExternalID: externalID})
	c.emitStats()
}

// emitStats coalesces aggregate counters onto new/status/deleted events.
func (c *Context) emitStats() {
	stats, err := c.Store.Stats()
	if err != nil {
		c.Logger.Warn("stats aggregation failed: %v", err)
		return
	}
	c.Bus.Publish(bus.TopicStats, stats)
}
