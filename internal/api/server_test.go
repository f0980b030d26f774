package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/powerswitch/internal/ingress"
	"github.com/yairfalse/powerswitch/internal/power"
	"github.com/yairfalse/powerswitch/pkg/instance"
)

// fakeEC2 is an in-memory fleet implementing power.Compute.
type fakeEC2 struct {
	mu       sync.Mutex
	records  map[string]instance.Record
	err      error
	startErr error

	calls      int
	startCalls [][]string
	stopCalls  [][]string
}

func newFakeEC2(records ...instance.Record) *fakeEC2 {
	f := &fakeEC2{records: make(map[string]instance.Record)}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeEC2) InstancesInState(_ context.Context, state instance.State) (map[string]instance.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]instance.Record)
	for id, r := range f.records {
		if r.State == state {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, ids []string) (map[string]instance.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]instance.Record)
	for _, id := range ids {
		if r, ok := f.records[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeEC2) StartInstances(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.startCalls = append(f.startCalls, ids)
	return f.startErr
}

func (f *fakeEC2) StopInstances(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.stopCalls = append(f.stopCalls, ids)
	return nil
}

type fakeGroups struct {
	mu    sync.Mutex
	perms map[string][]ingress.Permission
	calls int
}

func (g *fakeGroups) ReplaceIngress(_ context.Context, groupID string, perms []ingress.Permission) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.perms == nil {
		g.perms = make(map[string][]ingress.Permission)
	}
	g.perms[groupID] = perms
	return nil
}

func newTestServer(t *testing.T, ec2 *fakeEC2, groups *fakeGroups) *httptest.Server {
	t.Helper()
	reconciler := ingress.NewReconciler(groups, ingress.DefaultTemplate(), ingress.Options{})
	handler := power.NewHandler(ec2, power.WithIngress(reconciler))

	s, err := NewServer(handler, Options{ServiceName: "powerswitch-test"})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestPowerOff_EmptyList(t *testing.T) {
	ec2 := newFakeEC2()
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := post(t, srv.URL+"/ec2/poweroff", `{"instance_ids": []}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body["message"])
	assert.Equal(t, []any{}, body["targets"])
	assert.Equal(t, 0, ec2.calls)
}

func TestPowerOn_MixedStates(t *testing.T) {
	ec2 := newFakeEC2(
		instance.Record{ID: "i-1", State: instance.StateStopped},
		instance.Record{ID: "i-2", State: instance.StateRunning},
	)
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := post(t, srv.URL+"/ec2/poweron", `{"instance_ids": ["i-1", "i-2"]}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK, but doesn't set sg.", body["message"])
	assert.Equal(t, []any{"i-1"}, body["targets"])
	require.Len(t, ec2.startCalls, 1)
	assert.Equal(t, []string{"i-1"}, ec2.startCalls[0])
}

func TestPowerOn_WithCallerAddress(t *testing.T) {
	ec2 := newFakeEC2(instance.Record{ID: "i-1", State: instance.StateStopped, SecurityGroupIDs: []string{"sg-1"}})
	groups := &fakeGroups{}
	srv := newTestServer(t, ec2, groups)

	status, body := post(t, srv.URL+"/ec2/poweron", `{"instance_ids": ["i-1"], "myip": "1.2.3.4"}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body["message"])
	assert.Equal(t, []any{"i-1"}, body["targets"])

	perms := groups.perms["sg-1"]
	require.Len(t, perms, 4)
	assert.Equal(t, []string{"1.2.3.4/32"}, perms[0].CIDRs)
	assert.Equal(t, []string{"1.2.3.4/32"}, perms[1].CIDRs)
	assert.Contains(t, perms[2].CIDRs, "1.2.3.4/32")
	assert.Contains(t, perms[3].CIDRs, "1.2.3.4/32")
}

func TestPowerOn_NoCallerAddressNoGroupCalls(t *testing.T) {
	ec2 := newFakeEC2(instance.Record{ID: "i-1", State: instance.StateStopped, SecurityGroupIDs: []string{"sg-1"}})
	groups := &fakeGroups{}
	srv := newTestServer(t, ec2, groups)

	post(t, srv.URL+"/ec2/poweron", `{"instance_ids": ["i-1"]}`)

	assert.Equal(t, 0, groups.calls)
}

func TestPowerOn_StartErrorSuppressed(t *testing.T) {
	ec2 := newFakeEC2(instance.Record{ID: "i-1", State: instance.StateStopped})
	ec2.startErr = errors.New("RequestLimitExceeded")
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := post(t, srv.URL+"/ec2/poweron", `{"instance_ids": ["i-1"], "myip": "1.2.3.4"}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body["message"])
	assert.Equal(t, []any{}, body["targets"])
}

func TestPowerOff_DescribeErrorSuppressed(t *testing.T) {
	ec2 := newFakeEC2()
	ec2.err = errors.New("UnauthorizedOperation")
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := post(t, srv.URL+"/ec2/poweroff", `{"instance_ids": ["i-1"]}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["targets"])
	assert.Empty(t, ec2.stopCalls)
}

func TestPowerOff_MalformedBodyIsEmptyRequest(t *testing.T) {
	ec2 := newFakeEC2(instance.Record{ID: "i-1", State: instance.StateRunning})
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := post(t, srv.URL+"/ec2/poweroff", `{"instance_ids": [`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["targets"])
	assert.Equal(t, 0, ec2.calls)
}

func TestPowerOff_MissingBody(t *testing.T) {
	ec2 := newFakeEC2()
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := post(t, srv.URL+"/ec2/poweroff", "")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["targets"])
}

func TestInfo(t *testing.T) {
	addr := "203.0.113.7"
	ec2 := newFakeEC2(
		instance.Record{ID: "i-1", State: instance.StateRunning, PublicAddress: &addr, SecurityGroupIDs: []string{"sg-1"}},
		instance.Record{ID: "i-2", State: instance.StateStopped},
	)
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := get(t, srv.URL+"/ec2/info?instance_id=i-1&instance_id=i-2&instance_id=i-404")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body["message"])

	targets, ok := body["targets"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, targets, 2)

	i1 := targets["i-1"].(map[string]any)
	assert.Equal(t, addr, i1["PublicIpAddress"])
	assert.Equal(t, []any{"sg-1"}, i1["SecurityGroups"])

	i2 := targets["i-2"].(map[string]any)
	assert.Nil(t, i2["PublicIpAddress"])
	assert.Equal(t, []any{}, i2["SecurityGroups"])
}

func TestInfo_NoIDs(t *testing.T) {
	ec2 := newFakeEC2()
	srv := newTestServer(t, ec2, &fakeGroups{})

	status, body := get(t, srv.URL+"/ec2/info")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"message": "OK"}, body)
	assert.Equal(t, 0, ec2.calls)
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, newFakeEC2(), &fakeGroups{})

	status, body := get(t, srv.URL+"/ec2")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hello from root!", body["message"])
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, newFakeEC2(), &fakeGroups{})

	status, body := get(t, srv.URL+"/ec2/reboot")

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found!", body["error"])
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newFakeEC2(), &fakeGroups{})

	status, body := get(t, srv.URL+"/ec2/poweron")

	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "Method not allowed!", body["error"])
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newFakeEC2(), &fakeGroups{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	handler := power.NewHandler(newFakeEC2())
	s, err := NewServer(handler, Options{Meter: provider.Meter("test")})
	require.NoError(t, err)

	for _, path := range []string{"/healthz", "/healthz", "/nope"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	routes := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "powerswitch_http_requests_total" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				total += dp.Value
				route, _ := dp.Attributes.Value("route")
				routes[route.AsString()] = true
			}
		}
	}

	assert.Equal(t, int64(3), total)
	assert.True(t, routes["/healthz"])
	assert.NotContains(t, routes, "/nope")
}
