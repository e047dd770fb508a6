//go:build !libsql

package libsql

import (
	"context"
	"errors"

	entdriver "github.com/papercomputeco/accord/pkg/storage/ent/driver"
)

// Available reports whether this binary was built with libSQL support.
const Available = false

// ErrUnavailable is returned when the binary was built without the libsql tag.
var ErrUnavailable = errors.New("libsql storage requires a build with -tags libsql")

// Driver implements storage.Driver over libSQL.
type Driver struct {
	*entdriver.EntDriver
}

// NewDriver always fails in builds without the libsql tag.
func NewDriver(context.Context, string) (*Driver, error) {
	return nil, ErrUnavailable
}
