package testfs

import "errors"

// Error kinds from the filesystem's design (spec §7). Each corresponds to
// the negative error code the original C implementation returned for the
// same condition (see original_source/testfs.h's EINVAL/ENOSPC/... usage);
// here they are sentinel errors meant to be checked with errors.Is.
var (
	ErrNoMem    = errors.New("testfs: out of memory")
	ErrNoSpace  = errors.New("testfs: no space left on device")
	ErrNotFound = errors.New("testfs: no such file or directory")
	ErrExists   = errors.New("testfs: file exists")
	ErrIsDir    = errors.New("testfs: is a directory")
	ErrNotDir   = errors.New("testfs: not a directory")
	ErrNotEmpty = errors.New("testfs: directory not empty")
	ErrInvalid  = errors.New("testfs: invalid argument")
	ErrTooBig   = errors.New("testfs: file too large")
	ErrChecksum = errors.New("testfs: data block failed checksum verification")

	ErrBadArgs    = errors.New("testfs: wrong number of arguments")
	ErrNotRunning = errors.New("testfs: no transaction in progress")
	ErrBusy       = errors.New("testfs: transaction already in progress")
)

// FatalIOError wraps an I/O failure against the backing volume file. Per
// spec §4.1 and §7, such a failure is never returned as an ordinary error:
// the block device panics with this type, and only cmd/testfs's top-level
// recover prints a diagnostic and exits the process, mirroring the EXIT()
// macro in original_source/testfs.h.
type FatalIOError struct {
	Op  string
	Err error
}

func (e *FatalIOError) Error() string {
	return "testfs: fatal I/O error during " + e.Op + ": " + e.Err.Error()
}

func (e *FatalIOError) Unwrap() error {
	return e.Err
}

func fatalf(op string, err error) {
	panic(&FatalIOError{Op: op, Err: err})
}
