package redisstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"lingua-scheduler/internal/domain"
)

func TestPutBindingIfAbsent_FirstWriterWins(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := &Client{RDB: rdb}

	binding := domain.RequestBinding{RequestID: "req-1", JobID: "job-1", NodeID: "node-1"}
	key := RequestBindingKey("req-1")
	payload, err := json.Marshal(binding)
	require.NoError(t, err)

	mock.ExpectSetNX(key, payload, 30*time.Second).SetVal(true)

	got, won, err := c.PutBindingIfAbsent(context.Background(), binding, 30*time.Second)
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, binding, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutBindingIfAbsent_SecondWriterLoses(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := &Client{RDB: rdb}

	binding := domain.RequestBinding{RequestID: "req-1", JobID: "job-1", NodeID: "node-1"}
	existing := domain.RequestBinding{RequestID: "req-1", JobID: "job-0", NodeID: "node-9"}
	key := RequestBindingKey("req-1")
	payload, err := json.Marshal(binding)
	require.NoError(t, err)
	existingPayload, err := json.Marshal(existing)
	require.NoError(t, err)

	mock.ExpectSetNX(key, payload, 30*time.Second).SetVal(false)
	mock.ExpectGet(key).SetVal(string(existingPayload))

	got, won, err := c.PutBindingIfAbsent(context.Background(), binding, 30*time.Second)
	require.NoError(t, err)
	require.False(t, won)
	require.Equal(t, existing, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolMembers(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := &Client{RDB: rdb}

	mock.ExpectSAdd(PoolMembersKey("en-zh"), "node-1").SetVal(1)
	require.NoError(t, c.AddPoolMember(context.Background(), "en-zh", "node-1"))

	mock.ExpectSMembers(PoolMembersKey("en-zh")).SetVal([]string{"node-1"})
	members, err := c.PoolMembers(context.Background(), "en-zh")
	require.NoError(t, err)
	require.Equal(t, []string{"node-1"}, members)
	require.NoError(t, mock.ExpectationsWereMet())
}
