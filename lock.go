package persistlab

import "fmt"

// LockMode selects the pessimistic row lock taken by a query or find.
type LockMode int

const (
	LockNone         LockMode = iota
	PessimisticRead           // FOR SHARE
	PessimisticWrite          // FOR UPDATE
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "NONE"
	case PessimisticRead:
		return "PESSIMISTIC_READ"
	case PessimisticWrite:
		return "PESSIMISTIC_WRITE"
	}
	return fmt.Sprintf("LockMode(%d)", int(m))
}

// LockTimeout controls what a lock request does when rows are already locked.
type LockTimeout int

const (
	LockWait       LockTimeout = iota // block until the lock is granted
	LockNoWait                        // fail immediately with ErrLockTimeout
	LockSkipLocked                    // leave locked rows out of the result
)

func (t LockTimeout) String() string {
	switch t {
	case LockWait:
		return "WAIT"
	case LockNoWait:
		return "NOWAIT"
	case LockSkipLocked:
		return "SKIP LOCKED"
	}
	return fmt.Sprintf("LockTimeout(%d)", int(t))
}
