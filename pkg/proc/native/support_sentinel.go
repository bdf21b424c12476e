//go:build !linux || !amd64

package native

import (
	"errors"

	"github.com/tdbg-dev/tdbg/pkg/proc"
)

// ErrNativeBackendDisabled is returned when trying to launch a process on
// a platform without a native backend.
var ErrNativeBackendDisabled = errors.New("native backend disabled: only linux/amd64 is supported")

// Launch returns ErrNativeBackendDisabled.
func Launch(_ []string, _ string, _ proc.LaunchFlags, _ string) (*proc.Target, error) {
	return nil, ErrNativeBackendDisabled
}
