package selector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lingua-scheduler/internal/domain"
)

func readyNode() domain.Node {
	return domain.Node{
		Status:       domain.NodeReady,
		Online:       true,
		GPUPresent:   true,
		Capacity:     4,
		Running:      1,
		Services:     []domain.InstalledService{{Type: domain.ServiceNMT, Status: domain.ServiceStatusReady}},
		AcceptPublic: true,
	}
}

func TestSelectable_HealthyNodePasses(t *testing.T) {
	_, ok := selectableAt(readyNode(), domain.ServiceNMT, false, DefaultResourceThreshold)
	require.True(t, ok)
}

func TestSelectable_OfflineRejected(t *testing.T) {
	n := readyNode()
	n.Online = false
	reason, ok := selectableAt(n, domain.ServiceNMT, false, DefaultResourceThreshold)
	require.False(t, ok)
	require.Equal(t, domain.ReasonOffline, reason)
}

func TestSelectable_NonReadyStatusRejected(t *testing.T) {
	n := readyNode()
	n.Status = domain.NodeDegraded
	reason, ok := selectableAt(n, domain.ServiceNMT, false, DefaultResourceThreshold)
	require.False(t, ok)
	require.Equal(t, domain.ReasonStatusNotReady, reason)
}

func TestSelectable_NoGPURejected(t *testing.T) {
	n := readyNode()
	n.GPUPresent = false
	reason, ok := selectableAt(n, domain.ServiceNMT, false, DefaultResourceThreshold)
	require.False(t, ok)
	require.Equal(t, domain.ReasonGPUUnavailable, reason)
}

func TestSelectable_MissingServiceRejected(t *testing.T) {
	n := readyNode()
	n.Services = nil
	reason, ok := selectableAt(n, domain.ServiceNMT, false, DefaultResourceThreshold)
	require.False(t, ok)
	require.Equal(t, domain.ReasonModelNotAvailable, reason)
}

func TestSelectable_CapacityExceededRejected(t *testing.T) {
	n := readyNode()
	n.Running = n.Capacity
	reason, ok := selectableAt(n, domain.ServiceNMT, false, DefaultResourceThreshold)
	require.False(t, ok)
	require.Equal(t, domain.ReasonCapacityExceeded, reason)
}

func TestSelectable_ResourceThresholdRejected(t *testing.T) {
	n := readyNode()
	n.Gauges.CPU = 0.9
	reason, ok := selectableAt(n, domain.ServiceNMT, false, DefaultResourceThreshold)
	require.False(t, ok)
	require.Equal(t, domain.ReasonResourceThresholdExceeded, reason)
}

func TestSelectable_PublicJobOnPrivateNodeRejected(t *testing.T) {
	n := readyNode()
	n.AcceptPublic = false
	reason, ok := selectableAt(n, domain.ServiceNMT, true, DefaultResourceThreshold)
	require.False(t, ok)
	require.Equal(t, domain.ReasonNotInPublicPool, reason)
}

func TestRemaining(t *testing.T) {
	n := domain.Node{Capacity: 4, Running: 1}
	require.Equal(t, 3, n.Remaining())
	n.Running = 4
	require.Equal(t, 0, n.Remaining())
	n.Running = 6
	require.Equal(t, 0, n.Remaining())
}
