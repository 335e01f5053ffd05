package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"actuator_dashboard/internal/config"
	"actuator_dashboard/internal/logger"
	"actuator_dashboard/internal/models"
)

var ErrUnknownPanel = errors.New("unknown panel")

// DashboardService runs one channel engine per configured panel and routes
// UI requests to them by panel index.
type DashboardService struct {
	panels  []models.Panel
	engines []*ReconcilerService
	log     *logger.Logger
}

func NewDashboardService(panels []models.Panel, cfg config.EngineConfig, deps ReconcilerDeps) *DashboardService {
	d := &DashboardService{
		panels:  panels,
		engines: make([]*ReconcilerService, len(panels)),
		log:     deps.Log.With("component", "dashboard"),
	}
	for i, p := range panels {
		d.engines[i] = NewReconcilerService(p, cfg, deps)
	}
	return d
}

// Run starts every engine and stops them all once ctx is done.
func (d *DashboardService) Run(ctx context.Context) error {
	for i, e := range d.engines {
		if err := e.Start(ctx); err != nil {
			d.stopAll()
			return fmt.Errorf("start panel %d: %w", i, err)
		}
	}
	d.log.Infow("dashboard_started", "panels", len(d.engines))
	<-ctx.Done()
	d.stopAll()
	return nil
}

func (d *DashboardService) stopAll() {
	var wg sync.WaitGroup
	for _, e := range d.engines {
		wg.Add(1)
		go func(e *ReconcilerService) {
			defer wg.Done()
			e.Stop()
		}(e)
	}
	wg.Wait()
	d.log.Infow("dashboard_stopped")
}

// Panels lists the configured panels without their API keys.
func (d *DashboardService) Panels() []models.PanelInfo {
	out := make([]models.PanelInfo, len(d.panels))
	for i, p := range d.panels {
		out[i] = models.PanelInfo{
			Index:     i,
			Title:     p.Title,
			ChannelID: p.ChannelID,
			Actuators: models.Actuators(),
		}
	}
	return out
}

// ChannelID resolves a panel index to its channel id.
func (d *DashboardService) ChannelID(panel int) (string, error) {
	if panel < 0 || panel >= len(d.panels) {
		return "", ErrUnknownPanel
	}
	return d.panels[panel].ChannelID, nil
}

func (d *DashboardService) engine(panel int) (*ReconcilerService, error) {
	if panel < 0 || panel >= len(d.engines) {
		return nil, ErrUnknownPanel
	}
	return d.engines[panel], nil
}

func (d *DashboardService) Snapshot(panel int) (models.Snapshot, error) {
	e, err := d.engine(panel)
	if err != nil {
		return models.Snapshot{}, err
	}
	return e.Snapshot(), nil
}

func (d *DashboardService) Toggle(panel, field int) (models.Snapshot, error) {
	e, err := d.engine(panel)
	if err != nil {
		return models.Snapshot{}, err
	}
	return e.Toggle(field)
}

// Subscribe returns the panel engine's change signal and its cancel func.
func (d *DashboardService) Subscribe(panel int) (<-chan struct{}, func(), error) {
	e, err := d.engine(panel)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := e.Subscribe()
	return ch, cancel, nil
}
