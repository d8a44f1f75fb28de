package enums

import "fmt"

// AllocationStatus tracks whether a phone number is currently assigned to an
// account. Released allocations are retained for audit, never deleted.
type AllocationStatus string

const (
	AllocationStatusActive   AllocationStatus = "active"
	AllocationStatusReleased AllocationStatus = "released"
)

var validAllocationStatuses = []AllocationStatus{
	AllocationStatusActive,
	AllocationStatusReleased,
}

func (s AllocationStatus) String() string {
	return string(s)
}

func (s AllocationStatus) IsValid() bool {
	for _, candidate := range validAllocationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAllocationStatus converts raw input into an AllocationStatus.
func ParseAllocationStatus(value string) (AllocationStatus, error) {
	for _, candidate := range validAllocationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid allocation status %q", value)
}
