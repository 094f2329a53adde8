package replicalag

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// failingConnector makes every query on its *sql.DB fail to connect.
type failingConnector struct{}

func (failingConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("replica unreachable")
}

func (failingConnector) Driver() driver.Driver { return failingDriver{} }

type failingDriver struct{}

func (failingDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("replica unreachable")
}

type fakeSink struct {
	calls []bool
}

func (f *fakeSink) SetLagHealthy(healthy bool) {
	f.calls = append(f.calls, healthy)
}

func TestNewAppliesDefaultPollInterval(t *testing.T) {
	m := New("replica-1", nil, 0, 0, nil, nil)
	assert.Equal(t, 5*time.Second, m.pollInterval)
}

func TestNewKeepsExplicitPollInterval(t *testing.T) {
	m := New("replica-1", nil, 2*time.Second, 10*time.Second, nil, nil)
	assert.Equal(t, 2*time.Second, m.pollInterval)
}

func TestNewAppliesDefaultCriticalLag(t *testing.T) {
	m := New("replica-1", nil, 0, 0, nil, nil)
	assert.Equal(t, 10*time.Second, m.criticalLag)
}

func TestSetHealthyPropagatesToSink(t *testing.T) {
	sink := &fakeSink{}
	m := New("replica-1", nil, 0, 0, nil, sink)

	m.setHealthy(false)
	m.setHealthy(true)

	assert.Equal(t, []bool{false, true}, sink.calls)
}

func TestThreeConsecutiveFailuresMarkUnhealthy(t *testing.T) {
	sink := &fakeSink{}
	m := New("replica-1", sql.OpenDB(failingConnector{}), 0, 0, nil, sink)

	for i := 0; i < 3; i++ {
		m.poll(context.Background())
	}

	assert.Equal(t, []bool{false}, sink.calls)
}
