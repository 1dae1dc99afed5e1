// Package redisstate is the distributed state layer (C1): hash-tagged
// Redis keys for node presence/snapshot, pool membership, job FSM
// records, reservations and request bindings, plus the Lua scripts that
// make capacity reservation and FSM transitions atomic.
//
// Hash tags (the "{...}" segments) are load-bearing: in Redis Cluster mode
// they pin all keys that a single atomic script touches to the same slot.
package redisstate

import "fmt"

func InstancePresenceKey(instanceID string) string {
	return fmt.Sprintf("{instance:%s}:presence", instanceID)
}

func NodeSnapshotKey(nodeID string) string {
	return fmt.Sprintf("{node:%s}:snapshot", nodeID)
}

func NodePresenceKey(nodeID string) string {
	return fmt.Sprintf("{node:%s}:presence", nodeID)
}

func JobFSMKey(jobID string) string {
	return fmt.Sprintf("{job:%s}:fsm", jobID)
}

func PoolMembersKey(poolName string) string {
	return fmt.Sprintf("pool:{%s}:members", poolName)
}

func DirectedPairPoolKey(pairKey string) string {
	return fmt.Sprintf("pairpool:{%s}", pairKey)
}

func RequestBindingKey(requestID string) string {
	return fmt.Sprintf("request:{%s}:binding", requestID)
}

func ReservationKey(jobID string, attempt int, nodeID string) string {
	return fmt.Sprintf("reservation:{%s}:%d:%s", jobID, attempt, nodeID)
}

func NodeRunningCountKey(nodeID string) string {
	return fmt.Sprintf("{node:%s}:running", nodeID)
}

// StreamName is the Redis Stream a scheduler instance consumes
// cross-instance forwarded events from.
func StreamName(instanceID string) string {
	return fmt.Sprintf("forward:{instance:%s}:stream", instanceID)
}

// DLQStreamName is where events that exceeded max delivery attempts land.
func DLQStreamName() string {
	return "forward:dlq:stream"
}

func ConsumerGroup() string {
	return "scheduler-forwarders"
}
