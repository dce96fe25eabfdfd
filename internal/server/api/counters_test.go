package api

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headcount/internal/zone"
)

type fakePipeline struct {
	mu       sync.Mutex
	counters zone.Counters
	enabled  bool
}

func (p *fakePipeline) ZoneName() string        { return "gate" }
func (p *fakePipeline) ResetCounters()          { p.counters.Reset() }
func (p *fakePipeline) Counters() zone.Snapshot { return p.counters.Snapshot() }

func (p *fakePipeline) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

func (p *fakePipeline) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func TestCountersHandler_Get(t *testing.T) {
	p := &fakePipeline{enabled: true}
	p.counters.Apply(zone.Entry)
	p.counters.Apply(zone.Entry)
	p.counters.Apply(zone.Exit)
	h := NewCountersHandler(p)

	rec := do(t, h, http.MethodGet, "/api/counters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"zone":"gate","enabled":true,"counters":{"entries":2,"exits":1,"inside":1}}`, rec.Body.String())
}

func TestCountersHandler_Reset(t *testing.T) {
	p := &fakePipeline{}
	p.counters.Apply(zone.Entry)
	h := NewCountersHandler(p)

	rec := do(t, h, http.MethodPost, "/api/counters/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[countersResponse](t, rec)
	assert.Equal(t, zone.Snapshot{}, resp.Counters)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/counters/reset", nil).Code)
}

func TestCountersHandler_Detection(t *testing.T) {
	p := &fakePipeline{enabled: true}
	h := NewCountersHandler(p)

	rec := do(t, h, http.MethodPut, "/api/detection", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())
	assert.False(t, p.IsEnabled())

	assert.JSONEq(t, `{"enabled":false}`, do(t, h, http.MethodGet, "/api/detection", nil).Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/detection", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/detection", `{"enabled":"yes"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodDelete, "/api/detection", nil).Code)
}
