package spawn

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Kind classifies why starting a process failed
type Kind string

const (
	KindResourceExhausted Kind = "resource_exhausted"
	KindPermission        Kind = "permission"
	KindNotFound          Kind = "not_found"
	KindUnknown           Kind = "unknown"
)

// Exit codes of the intermediate process, following the shell convention
// for 126 and 127.
const (
	ExitOK                = 0
	ExitUnknown           = 1
	ExitUsage             = 2
	ExitResourceExhausted = 125
	ExitPermission        = 126
	ExitNotFound          = 127
)

// Classify maps a fork or exec error to a Kind
func Classify(err error) Kind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return KindUnknown
	}
	switch errno {
	case unix.EAGAIN, unix.ENOMEM, unix.EMFILE, unix.ENFILE:
		return KindResourceExhausted
	case unix.EACCES, unix.EPERM:
		return KindPermission
	case unix.ENOENT, unix.ENOTDIR:
		return KindNotFound
	}
	return KindUnknown
}

// ExitCode returns the intermediate's exit code for a Kind
func (k Kind) ExitCode() int {
	switch k {
	case KindResourceExhausted:
		return ExitResourceExhausted
	case KindPermission:
		return ExitPermission
	case KindNotFound:
		return ExitNotFound
	}
	return ExitUnknown
}

// KindFromExitCode is the inverse of ExitCode, used when the intermediate
// died before it could report a result.
func KindFromExitCode(code int) Kind {
	switch code {
	case ExitResourceExhausted:
		return KindResourceExhausted
	case ExitPermission:
		return KindPermission
	case ExitNotFound:
		return KindNotFound
	}
	return KindUnknown
}
