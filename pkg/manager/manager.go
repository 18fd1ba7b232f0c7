package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	slurm "github.com/jontk/slurm-client"

	"github.com/cuemby/vrm/pkg/component"
	"github.com/cuemby/vrm/pkg/config"
	"github.com/cuemby/vrm/pkg/events"
	"github.com/cuemby/vrm/pkg/metrics"
	"github.com/cuemby/vrm/pkg/reconciler"
	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/rms"
	"github.com/cuemby/vrm/pkg/schedule"
	"github.com/cuemby/vrm/pkg/shadow"
	"github.com/cuemby/vrm/pkg/statemachine"
	"github.com/cuemby/vrm/pkg/topology"
	"github.com/cuemby/vrm/pkg/workflow"
)

// OptimizationThreshold is the default system-satisfaction level above
// which the optimizer attempts a repack, matching spec §4.6's default.
const OptimizationThreshold = 0.5

// VRM is the running system: the component tree rooted at Master, the
// reservation store every component shares, and the cross-cutting
// helpers (shadow transactions, the workflow scheduler, analytics)
// built over that same store.
type VRM struct {
	Master     component.Component
	Components map[string]component.Component

	Store    *reservation.Store
	Shadow   *shadow.Manager
	Workflow *workflow.Scheduler
	Events   *events.Broker
	Metrics  *metrics.Collector

	Deadlines *reconciler.DeadlineQueue
	Optimizer *reconciler.Optimizer

	Log zerolog.Logger
}

// Start begins the VRM's background loops: metrics collection, the
// deadline queue, and the optimizer. Components themselves have no
// background goroutines of their own - per §5, a component acts only
// in response to a call from its parent or one of these loops.
func (v *VRM) Start() {
	v.Metrics.Start()
	v.Deadlines.Start()
	v.Optimizer.Start()
}

// Stop halts every background loop and the event broker.
func (v *VRM) Stop() {
	v.Metrics.Stop()
	v.Deadlines.Stop()
	v.Optimizer.Stop()
	v.Events.Stop()
}

// Build turns a validated Document into a live VRM, wiring every
// AcI/ADC node's schedule/RMS/topology against clock and publishing
// reservation-state transitions onto the returned VRM's Events broker.
// clock is threaded into every AcI's SlottedSchedule; a nil clock
// defaults to time.Now, matching a live deployment rather than a
// scripted scenario with a virtual clock.
func Build(doc *config.Document, clock func() time.Time, log zerolog.Logger) (*VRM, error) {
	if clock == nil {
		clock = time.Now
	}
	if verr := doc.Validate(); verr != nil {
		return nil, verr
	}

	broker := events.NewBroker()
	broker.Start()

	store := reservation.NewStore(&analyticsListener{broker: broker})

	v := &VRM{
		Components: make(map[string]component.Component),
		Store:      store,
		Events:     broker,
		Log:        log.With().Str("subsystem", "vrm-manager").Logger(),
	}

	for _, aciCfg := range doc.VRM.AcIs {
		aci, err := buildAcI(aciCfg, store, clock, v.Log)
		if err != nil {
			return nil, fmt.Errorf("manager: building aci %q: %w", aciCfg.ID, err)
		}
		v.Components[aciCfg.ID] = aci
	}

	// ADCs may nest (an ADC's child can be another ADC), so build in an
	// order where every child already exists: repeatedly build any ADC
	// whose children are all already present, the same fixed-point
	// approach a dependency-ordered construction needs when the config
	// doesn't guarantee a topological ordering up front.
	remaining := make(map[string]config.ADCConfig, len(doc.VRM.ADCs))
	adcConfigByID := make(map[string]config.ADCConfig, len(doc.VRM.ADCs))
	for _, adcCfg := range doc.VRM.ADCs {
		remaining[adcCfg.ID] = adcCfg
		adcConfigByID[adcCfg.ID] = adcCfg
	}
	for len(remaining) > 0 {
		progressed := false
		for id, adcCfg := range remaining {
			if !childrenReady(adcCfg, v.Components) {
				continue
			}
			adc := component.NewADC(id, v.Log)
			adc.SetChildOrder(childOrderFromConfig(adcCfg.ChildOrder))
			for _, childID := range adcCfg.Children {
				adc.AddChild(v.Components[childID])
			}
			v.Components[id] = adc
			delete(remaining, id)
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("manager: adc children form a cycle or reference an undeclared component")
		}
	}

	master, ok := v.Components[doc.VRM.AdcMasterID]
	if !ok {
		return nil, fmt.Errorf("manager: adc_master_id %q was not built", doc.VRM.AdcMasterID)
	}
	v.Master = master

	v.Shadow = shadow.NewManager(v.Master, v.Store, v.Log)
	v.Workflow = workflow.NewScheduler(v.Store, v.Log)
	v.Workflow.AvgNetworkSpeed = adcConfigByID[doc.VRM.AdcMasterID].AvgNetworkSpeed
	v.Metrics = metrics.NewCollector(v.Master, v.Store.CountsByKindAndState)
	v.Deadlines = reconciler.NewDeadlineQueue(v.Components, v.Store, clock, v.Log)
	v.Optimizer = reconciler.NewOptimizer(v.Master, v.Store, OptimizationThreshold, v.Log)

	return v, nil
}

// childOrderFromConfig maps the closed set of config.ChildOrder strings
// onto component.ChildOrder; an empty string (config's default) maps to
// RegistrationOrder, per config.go's own documented default.
func childOrderFromConfig(order string) component.ChildOrder {
	switch order {
	case config.ChildOrderRandom:
		return component.Random
	case config.ChildOrderLoadAscending:
		return component.LoadAscending
	case config.ChildOrderLoadDescending:
		return component.LoadDescending
	case config.ChildOrderSizeAscending:
		return component.SizeAscending
	case config.ChildOrderSizeDescending:
		return component.SizeDescending
	default:
		return component.RegistrationOrder
	}
}

func childrenReady(adcCfg config.ADCConfig, built map[string]component.Component) bool {
	for _, childID := range adcCfg.Children {
		if _, ok := built[childID]; !ok {
			return false
		}
	}
	return true
}

func buildAcI(cfg config.AcIConfig, store *reservation.Store, clock func() time.Time, log zerolog.Logger) (*component.AcI, error) {
	backing, err := buildRMS(cfg, log)
	if err != nil {
		return nil, err
	}

	var strategy schedule.Strategy
	if cfg.Type == config.RMSTypeNullBroker {
		links := make([]topology.Link, 0, len(cfg.NetworkLinks))
		for _, l := range cfg.NetworkLinks {
			links = append(links, topology.Link{ID: l.ID, Source: l.Source, Target: l.Target, Capacity: l.Capacity})
		}
		topo := topology.New(links, cfg.AccessRouters, log)
		strategy = topology.NewLinkStrategy(topo)
	} else {
		strategy = &schedule.NodeStrategy{TotalCapacity: cfg.Capacity}
	}

	sched := schedule.New(cfg.ID, cfg.SlotCount, time.Duration(cfg.SlotWidthSeconds)*time.Second, strategy, store, clock, log)
	return component.NewAcI(cfg.ID, sched, store, backing, log), nil
}

func buildRMS(cfg config.AcIConfig, log zerolog.Logger) (rms.RMS, error) {
	switch cfg.Type {
	case config.RMSTypeNullRms, config.RMSTypeNullBroker:
		return rms.NullRMS{}, nil
	case config.RMSTypeRmsSimulator:
		return rms.NewSimulator(), nil
	case config.RMSTypeSlurm:
		client, err := slurm.NewClient(context.Background(), slurm.WithBaseURL(cfg.SlurmBaseURL), slurm.WithToken(cfg.SlurmToken))
		if err != nil {
			return nil, fmt.Errorf("building slurm client: %w", err)
		}
		return rms.NewSlurmRMS(client, cfg.SlurmPartition, log), nil
	default:
		return nil, fmt.Errorf("unknown rms type %q", cfg.Type)
	}
}

// analyticsListener publishes every reservation state transition onto
// the VRM's event broker - the §6 "analytics output line per completed
// operation" requirement, reusing the teacher's events.Broker as the
// named channel rather than inventing a second pub/sub mechanism.
type analyticsListener struct {
	broker *events.Broker
}

func (a *analyticsListener) OnReservationChange(id reservation.ID, newState statemachine.State) {
	eventType, ok := reservationEventTypes[newState]
	if !ok {
		return
	}
	a.broker.Publish(&events.Event{
		Type:          eventType,
		ReservationID: string(id),
	})
}

var reservationEventTypes = map[statemachine.State]events.EventType{
	statemachine.ProbeAnswer:   events.EventReservationProbed,
	statemachine.ReserveAnswer: events.EventReservationReserved,
	statemachine.Committed:     events.EventReservationCommitted,
	statemachine.Rejected:      events.EventReservationRejected,
	statemachine.Deleted:       events.EventReservationDeleted,
	statemachine.Finished:      events.EventReservationFinished,
}
