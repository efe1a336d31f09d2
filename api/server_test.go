package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/progress"
	"github.com/projecteru2/hatchery/requests"
	"github.com/projecteru2/hatchery/types"
)

// fakeVMs owns "vm-a" for alice; admin sees everything.
type fakeVMs struct {
	ready    bool
	created  []types.VMSpec
	stopped  []string
	failWith error
}

func (f *fakeVMs) IsAdmin(user string) bool   { return user == "admin" }
func (f *fakeVMs) Ready(context.Context) bool { return f.ready }

func (f *fakeVMs) resolve(user, vm string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if vm == "vm-a" && (user == "alice" || f.IsAdmin(user)) {
		return nil
	}
	if f.IsAdmin(user) {
		return fmt.Errorf("%s: %w", vm, types.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", vm, types.ErrUnauthorized)
}

func (f *fakeVMs) List(_ context.Context, user string) ([]types.VMInfo, error) {
	if user != "alice" && !f.IsAdmin(user) {
		return nil, nil
	}
	return []types.VMInfo{{Name: "vm-a", Owner: "alice", Path: "/vms/alice/vm-a", State: types.StateRunning}}, nil
}

func (f *fakeVMs) Create(_ context.Context, user string, spec types.VMSpec, _ progress.Tracker) (*types.VMInfo, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	f.created = append(f.created, spec)
	return &types.VMInfo{Name: spec.Name, Owner: user, State: types.StateRunning}, nil
}

func (f *fakeVMs) Start(_ context.Context, user, vm string, _ progress.Tracker) error {
	return f.resolve(user, vm)
}

func (f *fakeVMs) Stop(_ context.Context, user, vm string) error {
	if err := f.resolve(user, vm); err != nil {
		return err
	}
	f.stopped = append(f.stopped, vm)
	return nil
}

func (f *fakeVMs) Delete(_ context.Context, user, vm string) error { return f.resolve(user, vm) }

func (f *fakeVMs) Console(_ context.Context, user, vm string) (string, error) {
	if err := f.resolve(user, vm); err != nil {
		return "", err
	}
	return "http://localhost:6080/vnc.html?autoconnect=true&resize=scale&keyboard=fr", nil
}

func (f *fakeVMs) Specs(_ context.Context, user, vm string) (*types.VMMeta, error) {
	if err := f.resolve(user, vm); err != nil {
		return nil, err
	}
	return &types.VMMeta{Name: vm, Owner: "alice", MemoryMB: 2048, CPUs: 2}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeVMs) {
	t.Helper()
	store, err := requests.Open(filepath.Join(t.TempDir(), "requests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vms := &fakeVMs{ready: true}
	ts := httptest.NewServer(New(config.DefaultConfig(), vms, store))
	t.Cleanup(ts.Close)
	return ts, vms
}

func call(t *testing.T, ts *httptest.Server, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Forwarded-User", user)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestIdentityRequired(t *testing.T) {
	ts, _ := newTestServer(t)
	code, body := call(t, ts, http.MethodGet, "/api/list_vms", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["success"])
}

func TestList(t *testing.T) {
	ts, _ := newTestServer(t)

	code, body := call(t, ts, http.MethodGet, "/api/list_vms", "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["user"])
	assert.Equal(t, false, body["is_admin"])
	vms := body["vms"].([]any)
	require.Len(t, vms, 1)
	assert.Equal(t, "running", vms[0].(map[string]any)["state"])

	code, body = call(t, ts, http.MethodGet, "/api/list_vms", "carol", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["vms"])
	assert.NotNil(t, body["vms"])
}

func TestCreate(t *testing.T) {
	ts, vms := newTestServer(t)

	code, body := call(t, ts, http.MethodPost, "/api/create_vm", "alice",
		`{"vm_name":"vm-1","vm_type":"serveur","os":"debian","vm_username":"alice","vm_password":"abcdef","root_password":"rootpw1"}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["success"])
	require.Len(t, vms.created, 1)
	assert.Equal(t, types.RoleServer, vms.created[0].Role)

	code, _ = call(t, ts, http.MethodPost, "/api/create_vm", "alice",
		`{"vm_name":"win","os":"windows","vm_username":"bob","vm_password":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, ts, http.MethodPost, "/api/create_vm", "alice", `{"os":"beos"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, ts, http.MethodPost, "/api/create_vm", "alice", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestActionsAreScoped(t *testing.T) {
	ts, vms := newTestServer(t)

	code, body := call(t, ts, http.MethodPost, "/api/halt_vm", "bob", `{"vm_name":"vm-a"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "VM not found or access denied", body["message"])

	code, _ = call(t, ts, http.MethodPost, "/api/halt_vm", "alice", `{"vm_name":"vm-a"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"vm-a"}, vms.stopped)

	code, _ = call(t, ts, http.MethodPost, "/api/delete_vm", "admin", `{"vm_name":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, ts, http.MethodPost, "/api/launch_vm", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestErrorKinds(t *testing.T) {
	ts, vms := newTestServer(t)
	for _, tt := range []struct {
		err    error
		status int
	}{
		{fmt.Errorf("vm-a: %w", types.ErrBusy), http.StatusConflict},
		{fmt.Errorf("not running: %w", types.ErrNotRunning), http.StatusBadRequest},
		{fmt.Errorf("ports: %w", types.ErrResourceExhausted), http.StatusServiceUnavailable},
		{fmt.Errorf("halt: %w", types.ErrTimeout), http.StatusGatewayTimeout},
		{&types.ToolError{Tool: "vagrant", Args: []string{"up"}, ExitCode: 1, Stderr: "no box"}, http.StatusInternalServerError},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	} {
		vms.failWith = tt.err
		code, body := call(t, ts, http.MethodGet, "/api/get_vnc_url/vm-a", "alice", "")
		assert.Equal(t, tt.status, code, tt.err.Error())
		if code == http.StatusInternalServerError && !strings.Contains(tt.err.Error(), "vagrant") {
			assert.NotContains(t, body["message"], "disk on fire")
		}
	}
}

func TestConsoleAndSpecs(t *testing.T) {
	ts, _ := newTestServer(t)

	code, body := call(t, ts, http.MethodGet, "/api/get_vnc_url/vm-a", "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["url"], "keyboard=fr")

	code, body = call(t, ts, http.MethodGet, "/api/vm_specs/vm-a", "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 2048, body["specs"].(map[string]any)["memory_mb"], 0)
}

func TestCapacityRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	code, body := call(t, ts, http.MethodPost, "/api/request_vm_capacity", "alice",
		`{"vm_name":"vm-a","ram":"8GB","reason":"running a build farm"}`)
	require.Equal(t, http.StatusCreated, code, body)
	req := body["request"].(map[string]any)
	id := req["id"].(string)
	assert.InDelta(t, 8192, req["requested_ram_mb"], 0)
	assert.InDelta(t, 2048, req["current_ram_mb"], 0)

	code, _ = call(t, ts, http.MethodPost, "/api/request_vm_capacity", "bob",
		`{"vm_name":"vm-a","ram":"8GB","reason":"running a build farm"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = call(t, ts, http.MethodPost, "/api/request_vm_capacity", "alice",
		`{"vm_name":"vm-a","ram":"8GB","reason":"pls"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = call(t, ts, http.MethodGet, "/api/capacity_requests", "bob", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["requests"])

	code, _ = call(t, ts, http.MethodPost, "/api/capacity_requests/"+id+"/approve", "alice", `{}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = call(t, ts, http.MethodPost, "/api/capacity_requests/"+id+"/approve", "admin", `{"notes":"ok"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "approved", body["request"].(map[string]any)["status"])

	code, _ = call(t, ts, http.MethodPost, "/api/capacity_requests/"+id+"/reject", "admin", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = call(t, ts, http.MethodGet, "/api/capacity_requests?status=approved", "admin", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["requests"], 1)
}

func TestHealth(t *testing.T) {
	ts, vms := newTestServer(t)
	code, body := call(t, ts, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])

	vms.ready = false
	code, _ = call(t, ts, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
