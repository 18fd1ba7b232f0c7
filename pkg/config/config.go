// Package config loads the VRM's JSON startup document (§6): a
// Clients section describing the client workload to drive through
// cmd/vrm's scripted scenario, and a VRM section describing the
// component tree (one master ADC, its ADC/AcI children, each AcI's
// backing RMS and schedule). Load validates every field it can before
// returning, per §7's "construction failures reported at startup;
// prevent system from running" - never a panic, always a
// ValidationError an operator can act on in one pass.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// RMS type strings, the closed set §6 names for AcI.Type.
const (
	RMSTypeNullRms      = "NullRms"
	RMSTypeNullBroker   = "NullBroker"
	RMSTypeRmsSimulator = "RmsSimulator"
	RMSTypeSlurm        = "Slurm"
)

var validRMSTypes = map[string]bool{
	RMSTypeNullRms:      true,
	RMSTypeNullBroker:   true,
	RMSTypeRmsSimulator: true,
	RMSTypeSlurm:        true,
}

// Scheduler type strings, the closed set §6 names for ADC.SchedulerType.
const (
	SchedulerExhaustiveEFT  = "EXHAUSTIVE-EFT"
	SchedulerExhaustiveFrag = "EXHAUSTIVE-FRAG"
	SchedulerHEFT           = "HEFT"
	SchedulerFragHEFT       = "FRAG-HEFT"
	SchedulerFragWindow     = "FRAG-WINDOW"
	SchedulerFragWindowZhao = "FRAG-WINDOW-ZHAO"
)

var validSchedulerTypes = map[string]bool{
	SchedulerExhaustiveEFT:  true,
	SchedulerExhaustiveFrag: true,
	SchedulerHEFT:           true,
	SchedulerFragHEFT:       true,
	SchedulerFragWindow:     true,
	SchedulerFragWindowZhao: true,
}

// ChildOrder strings, the closed set for ADC.ChildOrder; empty means
// component.RegistrationOrder.
const (
	ChildOrderRandom            = "Random"
	ChildOrderRegistrationOrder = "RegistrationOrder"
	ChildOrderLoadAscending     = "LoadAscending"
	ChildOrderLoadDescending    = "LoadDescending"
	ChildOrderSizeAscending     = "SizeAscending"
	ChildOrderSizeDescending    = "SizeDescending"
)

var validChildOrders = map[string]bool{
	"": true, ChildOrderRandom: true, ChildOrderRegistrationOrder: true,
	ChildOrderLoadAscending: true, ChildOrderLoadDescending: true,
	ChildOrderSizeAscending: true, ChildOrderSizeDescending: true,
}

// NetworkLink mirrors one grid network link: a capacity-bounded edge
// between two routers that an AcI's LinkStrategy schedules bandwidth
// over.
type NetworkLink struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Capacity int64  `json:"capacity"`
}

// AcIConfig describes one leaf component: its backing RMS type plus
// either a flat node capacity (NullRms/RmsSimulator/Slurm) or a set of
// grid nodes/network links (NullBroker) feeding a LinkStrategy.
type AcIConfig struct {
	ID               string        `json:"id"`
	Type             string        `json:"type"`
	Capacity         int64         `json:"capacity,omitempty"`
	SlotWidthSeconds int64         `json:"slot_width_seconds"`
	SlotCount        int           `json:"slot_count"`
	GridNodes        []string      `json:"grid_nodes,omitempty"`
	NetworkLinks     []NetworkLink `json:"network_links,omitempty"`
	AccessRouters    []string      `json:"access_routers,omitempty"`
	SlurmPartition   string        `json:"slurm_partition,omitempty"`
	SlurmBaseURL     string        `json:"slurm_base_url,omitempty"`
	SlurmToken       string        `json:"slurm_token,omitempty"`
}

// ADCConfig describes one interior component: its children (by id,
// resolved against both ADCs and AcIs) and its workflow scheduler/
// child-ordering configuration.
type ADCConfig struct {
	ID              string   `json:"id"`
	Children        []string `json:"children"`
	SchedulerType   string   `json:"scheduler_type"`
	ChildOrder      string   `json:"child_order,omitempty"`
	AvgNetworkSpeed int64    `json:"avg_network_speed,omitempty"`
}

// VRM is the component-tree half of the document.
type VRM struct {
	AdcMasterID string      `json:"adc_master_id"`
	ADCs        []ADCConfig `json:"adcs"`
	AcIs        []AcIConfig `json:"acis"`
}

// TaskConfig is one workflow node: a would-be node reservation request.
type TaskConfig struct {
	ID                  string `json:"id"`
	DurationSeconds     int64  `json:"duration_seconds"`
	Capacity            int64  `json:"capacity"`
	WindowStartSeconds  int64  `json:"window_start_seconds"`
	WindowEndSeconds    int64  `json:"window_end_seconds"`
}

// DataDependencyConfig is one workflow.DataDependency edge.
type DataDependencyConfig struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	SizeBytes int64  `json:"size_bytes"`
}

// SyncDependencyConfig is one workflow.SyncDependency edge.
type SyncDependencyConfig struct {
	ID              string `json:"id"`
	Source          string `json:"source"`
	Target          string `json:"target"`
	BandwidthBytes  int64  `json:"bandwidth_bytes"`
}

// WorkflowConfig is one client-submitted workflow.
type WorkflowConfig struct {
	ID               string                 `json:"id"`
	Tasks            []TaskConfig           `json:"tasks"`
	DataDependencies []DataDependencyConfig `json:"data_dependencies,omitempty"`
	SyncDependencies []SyncDependencyConfig `json:"sync_dependencies,omitempty"`
}

// ClientConfig is one submitting client and the workflows it drives
// through the scripted scenario.
type ClientConfig struct {
	ID        string           `json:"id"`
	Workflows []WorkflowConfig `json:"workflows"`
}

// Document is the full top-level JSON shape §6 describes.
type Document struct {
	Clients []ClientConfig `json:"clients"`
	VRM     VRM            `json:"vrm"`
}

// ValidationError collects every offending field found while
// validating a Document in one pass, rather than failing on the
// first - per §7, an operator fixes a config file in one
// edit-rebuild cycle instead of playing whack-a-mole.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("config: %d validation problem(s):", len(e.Problems))
	for _, p := range e.Problems {
		msg += "\n  - " + p
	}
	return msg
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Load reads and parses the document at path, then validates it.
// It returns a *ValidationError (never a panic) when the document is
// structurally fine but semantically invalid.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if verr := doc.Validate(); verr != nil {
		return nil, verr
	}
	return &doc, nil
}

// Validate checks every closed-set field and referential constraint
// the VRM section requires, returning nil if the document is clean or
// a *ValidationError listing every problem found otherwise.
func (d *Document) Validate() error {
	verr := &ValidationError{}

	ids := make(map[string]bool)
	for _, adc := range d.VRM.ADCs {
		if adc.ID == "" {
			verr.add("adc has empty id")
			continue
		}
		if ids[adc.ID] {
			verr.add("duplicate component id %q", adc.ID)
		}
		ids[adc.ID] = true

		if !validSchedulerTypes[adc.SchedulerType] {
			verr.add("adc %q: scheduler_type %q is not one of the supported scheduler types", adc.ID, adc.SchedulerType)
		}
		if !validChildOrders[adc.ChildOrder] {
			verr.add("adc %q: child_order %q is not a supported ordering", adc.ID, adc.ChildOrder)
		}
		if len(adc.Children) == 0 {
			verr.add("adc %q: has no children", adc.ID)
		}
	}

	for _, aci := range d.VRM.AcIs {
		if aci.ID == "" {
			verr.add("aci has empty id")
			continue
		}
		if ids[aci.ID] {
			verr.add("duplicate component id %q", aci.ID)
		}
		ids[aci.ID] = true

		if !validRMSTypes[aci.Type] {
			verr.add("aci %q: type %q is not one of the supported RMS types", aci.ID, aci.Type)
		}
		if aci.SlotWidthSeconds <= 0 {
			verr.add("aci %q: slot_width_seconds must be positive", aci.ID)
		}
		if aci.SlotCount <= 0 {
			verr.add("aci %q: slot_count must be positive", aci.ID)
		}

		switch aci.Type {
		case RMSTypeNullBroker:
			if len(aci.NetworkLinks) == 0 {
				verr.add("aci %q: type NullBroker requires at least one network link", aci.ID)
			}
		case RMSTypeNullRms, RMSTypeRmsSimulator, RMSTypeSlurm:
			if aci.Capacity <= 0 {
				verr.add("aci %q: type %s requires a positive capacity", aci.ID, aci.Type)
			}
		}
		if aci.Type == RMSTypeSlurm {
			if aci.SlurmPartition == "" {
				verr.add("aci %q: type Slurm requires slurm_partition", aci.ID)
			}
			if aci.SlurmBaseURL == "" {
				verr.add("aci %q: type Slurm requires slurm_base_url", aci.ID)
			}
		}
	}

	if d.VRM.AdcMasterID == "" {
		verr.add("vrm: adc_master_id is required")
	} else if !componentIsADC(d.VRM, d.VRM.AdcMasterID) {
		verr.add("vrm: adc_master_id %q does not refer to a configured adc", d.VRM.AdcMasterID)
	}

	for _, adc := range d.VRM.ADCs {
		for _, childID := range adc.Children {
			if !ids[childID] {
				verr.add("adc %q: child %q does not refer to any configured component", adc.ID, childID)
			}
		}
	}

	for _, client := range d.Clients {
		if client.ID == "" {
			verr.add("client has empty id")
		}
		for _, wf := range client.Workflows {
			taskIDs := make(map[string]bool)
			for _, task := range wf.Tasks {
				if task.ID == "" {
					verr.add("client %q workflow %q: task has empty id", client.ID, wf.ID)
					continue
				}
				taskIDs[task.ID] = true
				if task.DurationSeconds <= 0 {
					verr.add("client %q workflow %q task %q: duration_seconds must be positive", client.ID, wf.ID, task.ID)
				}
				if task.Capacity <= 0 {
					verr.add("client %q workflow %q task %q: capacity must be positive", client.ID, wf.ID, task.ID)
				}
				if task.WindowEndSeconds <= task.WindowStartSeconds {
					verr.add("client %q workflow %q task %q: window_end_seconds must be after window_start_seconds", client.ID, wf.ID, task.ID)
				}
			}
			for _, dep := range wf.DataDependencies {
				if !taskIDs[dep.Source] || !taskIDs[dep.Target] {
					verr.add("client %q workflow %q data dependency %q: source/target must reference a task in the same workflow", client.ID, wf.ID, dep.ID)
				}
			}
			for _, dep := range wf.SyncDependencies {
				if !taskIDs[dep.Source] || !taskIDs[dep.Target] {
					verr.add("client %q workflow %q sync dependency %q: source/target must reference a task in the same workflow", client.ID, wf.ID, dep.ID)
				}
			}
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func componentIsADC(vrm VRM, id string) bool {
	for _, adc := range vrm.ADCs {
		if adc.ID == id {
			return true
		}
	}
	return false
}
