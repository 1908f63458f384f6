package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logging"
)

func TestManager_StartsInDependencyOrder(t *testing.T) {
	var started, stopped []string
	record := func(name string) Func {
		return Func{
			Name:      name,
			StartFunc: func(context.Context) error { started = append(started, name); return nil },
			StopFunc:  func(context.Context) error { stopped = append(stopped, name); return nil },
		}
	}

	m := NewManager(logging.Discard(), 1)
	graph := record("graph")
	graph.Parents = []string{"postgres"}
	m.Add(graph)
	m.Add(record("postgres"))
	m.Add(record("redis"))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"postgres", "graph", "redis"}, started)
	assert.Equal(t, StatusStarted, m.Status("graph"))

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"redis", "graph", "postgres"}, stopped)
}

func TestManager_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	m := NewManager(logging.Discard(), 3)
	m.unit = time.Millisecond
	m.Add(Func{Name: "postgres", StartFunc: func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestManager_GivesUp(t *testing.T) {
	m := NewManager(logging.Discard(), 2)
	m.unit = time.Millisecond
	m.Add(Func{Name: "redis", StartFunc: func(context.Context) error { return errors.New("down") }})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 2 attempts")
	assert.Equal(t, StatusFailed, m.Status("redis"))
}

func TestManager_UnknownParent(t *testing.T) {
	m := NewManager(logging.Discard(), 1)
	m.Add(Func{Name: "graph", Parents: []string{"postgres"}})

	assert.Error(t, m.Start(context.Background()))
}
