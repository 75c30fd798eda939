package txmanager

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// Component pairs a Manager with the driver it opens scopes on. Cleanup does
// not close the driver's pool; it reports transactions that are still open
// when the host shuts down.
type Component struct {
	Manager Manager
	Driver  Driver

	mgr    *managerImpl
	helper *log.Helper
}

// NewComponent builds a Manager for driver. The logger is applied before opts,
// so an explicit WithLogger still wins.
func NewComponent(cfg Config, driver Driver, logger log.Logger, opts ...Option) (*Component, func(), error) {
	options := append([]Option{WithLogger(logger)}, opts...)
	mgr, err := newManager(driver, cfg, options)
	if err != nil {
		return nil, nil, err
	}

	comp := &Component{Manager: mgr, Driver: driver, mgr: mgr, helper: mgr.helper}
	return comp, comp.shutdown, nil
}

// OpenTransactions reports root transactions that have begun and not yet
// committed or rolled back.
func (c *Component) OpenTransactions() int64 {
	if c == nil || c.mgr == nil {
		return 0
	}
	return c.mgr.openTransactions()
}

func (c *Component) shutdown() {
	if n := c.OpenTransactions(); n > 0 {
		c.helper.Warnf("txmanager: shutting down with %d open transactions on %s", n, c.mgr.system)
		return
	}
	c.helper.Debugf("txmanager: component closed system=%s", c.mgr.system)
}

// ProvideComponent is the Wire-friendly constructor without variadic options.
func ProvideComponent(cfg Config, driver Driver, logger log.Logger) (*Component, func(), error) {
	return NewComponent(cfg, driver, logger)
}

// ProvideManager exposes the Manager interface for Wire injection.
func ProvideManager(comp *Component) Manager {
	if comp == nil {
		return nil
	}
	return comp.Manager
}

// ProviderSet collects constructors for Wire integration. The host binds a
// txmanager.Driver, usually through a driver package's ProviderSet.
var ProviderSet = wire.NewSet(ProvideComponent, ProvideManager)
