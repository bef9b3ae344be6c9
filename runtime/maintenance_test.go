package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmrt/calllog"
	"github.com/aschepis/backscratcher/llmrt/toolcache"
)

func TestNewMaintenance_InvalidSpec(t *testing.T) {
	_, err := NewMaintenance("not a schedule", nil, nil, 0, zerolog.Nop())
	assert.Error(t, err)
}

func TestMaintenance_RunOnce(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	cache := toolcache.New(toolcache.AlwaysFull{}, zerolog.Nop(), toolcache.WithClock(clock), toolcache.WithTTL(time.Minute))
	cache.Process(toolcache.ExecutionContext{ToolName: "a", RawResult: "1"})
	now = now.Add(2 * time.Minute)

	store := calllog.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.LogCall(ctx, &calllog.CallLog{ID: "old", Timestamp: time.Now().AddDate(0, 0, -10)}))
	require.NoError(t, store.LogCall(ctx, &calllog.CallLog{ID: "new", Timestamp: time.Now()}))

	m, err := NewMaintenance("@every 1h", cache, store, 7, zerolog.Nop())
	require.NoError(t, err)

	report, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiredEntries)
	assert.Equal(t, int64(1), report.DeletedLogs)
}

func TestMaintenance_StartStop(t *testing.T) {
	m, err := NewMaintenance("@every 1h", toolcache.New(nil, zerolog.Nop()), nil, 0, zerolog.Nop())
	require.NoError(t, err)
	m.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Stop(ctx))
}

func TestRuntime_StartsMaintenance(t *testing.T) {
	rt := newRuntime(t, nil, func(o *Options) { o.MaintenanceSpec = "@every 1h" })
	assert.NotNil(t, rt.Maintenance())

	_, err := New(Options{MaintenanceSpec: "bogus", Logger: zerolog.Nop()})
	assert.Error(t, err)
}
