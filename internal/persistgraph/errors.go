package persistgraph

import (
	"errors"
	"fmt"
)

var (
	ErrLocked           = errors.New("persistent graph is locked")
	ErrUnlocked         = errors.New("persistent graph is not locked")
	ErrLockCodeMismatch = errors.New("persistent graph lock code mismatch")
	ErrCannotLock       = errors.New("persistent graph cannot be locked")
	ErrCannotUnlock     = errors.New("persistent graph cannot be unlocked")
)

// LockedError carries the code currently holding the lock.
type LockedError struct {
	Location Location
	Holder   string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s is locked by %q", ErrLocked, e.Location, e.Holder)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

type LockCodeMismatchError struct {
	Location Location
	Want     string
	Got      string
}

func (e *LockCodeMismatchError) Error() string {
	return fmt.Sprintf("%s: %s is locked by %q, not %q", ErrLockCodeMismatch, e.Location, e.Want, e.Got)
}

func (e *LockCodeMismatchError) Is(target error) bool { return target == ErrLockCodeMismatch }
