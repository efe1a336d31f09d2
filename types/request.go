package types

import "time"

// RequestStatus is the review state of a capacity request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// CapacityRequest asks an administrator for more resources on one VM.
type CapacityRequest struct {
	ID                 string        `json:"id"`
	Username           string        `json:"username"`
	VMName             string        `json:"vm_name"`
	CurrentRAMMB       int           `json:"current_ram_mb"`
	CurrentCPU         int           `json:"current_cpu"`
	CurrentStorageGB   int           `json:"current_storage_gb"`
	RequestedRAMMB     int           `json:"requested_ram_mb"`
	RequestedCPU       int           `json:"requested_cpu"`
	RequestedStorageGB int           `json:"requested_storage_gb"`
	Reason             string        `json:"reason"`
	Status             RequestStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	ProcessedAt        *time.Time    `json:"processed_at,omitempty"`
	AdminNotes         string        `json:"admin_notes,omitempty"`
}
