package api

import (
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"github.com/projecteru2/hatchery/requests"
	"github.com/projecteru2/hatchery/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := s.vms.Ready(r.Context())
	writeJSON(w, lo.Ternary(ready, http.StatusOK, http.StatusServiceUnavailable), map[string]bool{"ready": ready})
}

type listResponse struct {
	VMs     []types.VMInfo `json:"vms"`
	User    string         `json:"user"`
	IsAdmin bool           `json:"is_admin"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, user string) {
	vms, err := s.vms.List(r.Context(), user)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		VMs:     lo.Ternary(vms == nil, []types.VMInfo{}, vms),
		User:    user,
		IsAdmin: s.vms.IsAdmin(user),
	})
}

type createRequest struct {
	Name          string `json:"vm_name"`
	Role          string `json:"vm_type"`
	OS            string `json:"os"`
	GuestUsername string `json:"vm_username"`
	GuestPassword string `json:"vm_password"`
	AdminPassword string `json:"root_password"`
}

func (c createRequest) spec() (types.VMSpec, error) {
	role, err := types.ParseRole(c.Role)
	if err != nil {
		return types.VMSpec{}, err
	}
	guest, err := types.ParseGuestOS(c.OS)
	if err != nil {
		return types.VMSpec{}, err
	}
	return types.VMSpec{
		Name:          c.Name,
		Role:          role,
		OS:            guest,
		GuestUsername: c.GuestUsername,
		GuestPassword: c.GuestPassword,
		AdminPassword: c.AdminPassword,
	}, nil
}

type vmResponse struct {
	response
	VM *types.VMInfo `json:"vm,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, user string) {
	var body createRequest
	if err := decode(w, r, &body); err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	spec, err := body.spec()
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	info, err := s.vms.Create(r.Context(), user, spec, nil)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vmResponse{
		response: response{Success: true, Message: fmt.Sprintf("VM %s created", info.Name)},
		VM:       info,
	})
}

type vmRequest struct {
	Name string `json:"vm_name"`
}

// vmAction decodes {"vm_name"} and runs op on it.
func (s *Server) vmAction(w http.ResponseWriter, r *http.Request, verb string, op func(vm string) error) {
	var body vmRequest
	if err := decode(w, r, &body); err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	if body.Name == "" {
		writeErr(r.Context(), w, types.Validationf("VM name required"))
		return
	}
	if err := op(body.Name); err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: fmt.Sprintf("VM %s %s", body.Name, verb)})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, user string) {
	s.vmAction(w, r, "started", func(vm string) error { return s.vms.Start(r.Context(), user, vm, nil) })
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, user string) {
	s.vmAction(w, r, "stopped", func(vm string) error { return s.vms.Stop(r.Context(), user, vm) })
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, user string) {
	s.vmAction(w, r, "deleted", func(vm string) error { return s.vms.Delete(r.Context(), user, vm) })
}

type consoleResponse struct {
	response
	URL string `json:"url"`
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request, user string) {
	url, err := s.vms.Console(r.Context(), user, r.PathValue("vm"))
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, consoleResponse{response: response{Success: true}, URL: url})
}

type specsResponse struct {
	response
	Specs *types.VMMeta `json:"specs"`
}

func (s *Server) handleSpecs(w http.ResponseWriter, r *http.Request, user string) {
	meta, err := s.vms.Specs(r.Context(), user, r.PathValue("vm"))
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, specsResponse{response: response{Success: true}, Specs: meta})
}

type capacityRequest struct {
	Name    string `json:"vm_name"`
	RAM     string `json:"ram"`
	CPU     int    `json:"cpu"`
	Storage string `json:"storage"`
	Reason  string `json:"reason"`
}

type requestResponse struct {
	response
	Request *types.CapacityRequest `json:"request"`
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request, user string) {
	var body capacityRequest
	if err := decode(w, r, &body); err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	if body.Name == "" {
		writeErr(r.Context(), w, types.Validationf("VM name required"))
		return
	}
	meta, err := s.vms.Specs(r.Context(), user, body.Name)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	req, err := s.reqs.Submit(r.Context(), requests.Submission{
		Username: user,
		VMName:   meta.Name,
		Current:  requests.Current{RAMMB: meta.MemoryMB, CPU: meta.CPUs},
		RAM:      body.RAM,
		CPU:      body.CPU,
		Storage:  body.Storage,
		Reason:   body.Reason,
	})
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestResponse{
		response: response{Success: true, Message: "request recorded, administrators will review it"},
		Request:  req,
	})
}

type requestsResponse struct {
	Requests []*types.CapacityRequest `json:"requests"`
	IsAdmin  bool                     `json:"is_admin"`
}

// handleListRequests shows users their own requests and administrators
// every request, optionally filtered by ?status=.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request, user string) {
	admin := s.vms.IsAdmin(user)
	f := requests.Filter{
		Username: lo.Ternary(admin, "", user),
		Status:   types.RequestStatus(r.URL.Query().Get("status")),
	}
	list, err := s.reqs.List(r.Context(), f)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestsResponse{
		Requests: lo.Ternary(list == nil, []*types.CapacityRequest{}, list),
		IsAdmin:  admin,
	})
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

var decisions = map[string]types.RequestStatus{
	"approve": types.RequestApproved,
	"reject":  types.RequestRejected,
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request, user string) {
	if !s.vms.IsAdmin(user) {
		writeError(w, http.StatusForbidden, "administrators only")
		return
	}
	status, ok := decisions[r.PathValue("decision")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown decision")
		return
	}
	var body decisionRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &body); err != nil {
			writeErr(r.Context(), w, err)
			return
		}
	}
	req, err := s.reqs.Decide(r.Context(), r.PathValue("id"), status, body.Notes)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{response: response{Success: true}, Request: req})
}
