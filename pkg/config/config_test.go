package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, doc *Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vrm.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func validDoc() *Document {
	return &Document{
		VRM: VRM{
			AdcMasterID: "adc-root",
			ADCs: []ADCConfig{
				{ID: "adc-root", Children: []string{"aci-a"}, SchedulerType: SchedulerHEFT},
			},
			AcIs: []AcIConfig{
				{ID: "aci-a", Type: RMSTypeRmsSimulator, Capacity: 8, SlotWidthSeconds: 1, SlotCount: 3600},
			},
		},
	}
}

func TestLoadValidDocumentRoundTrips(t *testing.T) {
	path := writeDoc(t, validDoc())
	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "adc-root", doc.VRM.AdcMasterID)
	assert.Len(t, doc.VRM.AcIs, 1)
}

func TestValidateRejectsUnknownRMSType(t *testing.T) {
	doc := validDoc()
	doc.VRM.AcIs[0].Type = "NotARealType"

	err := doc.Validate()
	require.Error(t, err)

	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Len(t, verr.Problems, 1)
}

func TestValidateCollectsEveryProblemInOnePass(t *testing.T) {
	doc := validDoc()
	doc.VRM.AcIs[0].Type = "NotARealType"
	doc.VRM.ADCs[0].SchedulerType = "NOT-A-SCHEDULER"
	doc.VRM.AdcMasterID = "does-not-exist"

	err := doc.Validate()
	require.Error(t, err)

	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(verr.Problems), 3, "every offending field should be reported, not just the first")
}

func TestValidateRejectsDanglingADCChild(t *testing.T) {
	doc := validDoc()
	doc.VRM.ADCs[0].Children = append(doc.VRM.ADCs[0].Children, "aci-ghost")

	err := doc.Validate()
	require.Error(t, err)
}

func TestValidateRequiresNetworkLinksForNullBroker(t *testing.T) {
	doc := validDoc()
	doc.VRM.AcIs = append(doc.VRM.AcIs, AcIConfig{
		ID: "aci-link", Type: RMSTypeNullBroker, SlotWidthSeconds: 1, SlotCount: 100,
	})
	doc.VRM.ADCs[0].Children = append(doc.VRM.ADCs[0].Children, "aci-link")

	err := doc.Validate()
	require.Error(t, err)
}

func TestValidateRejectsWorkflowDependencyToUnknownTask(t *testing.T) {
	doc := validDoc()
	doc.Clients = []ClientConfig{
		{
			ID: "client-1",
			Workflows: []WorkflowConfig{
				{
					ID:    "wf-1",
					Tasks: []TaskConfig{{ID: "t1", DurationSeconds: 4, Capacity: 2, WindowStartSeconds: 0, WindowEndSeconds: 100}},
					DataDependencies: []DataDependencyConfig{
						{ID: "d1", Source: "t1", Target: "t-missing", SizeBytes: 10},
					},
				},
			},
		},
	}

	err := doc.Validate()
	require.Error(t, err)
}
