package swap

import (
	"sync/atomic"

	"github.com/vulpemventures/boltz-core-liquid/pkg/logging"
)

var pkgLogger atomic.Pointer[logging.Logger]

func init() {
	pkgLogger.Store(logging.GetDefault().Component("swap"))
}

// SetLogger replaces the logger used by the swap package. It is safe to
// call while transactions are being built.
func SetLogger(l *logging.Logger) {
	if l == nil {
		return
	}
	pkgLogger.Store(l)
}

func logger() *logging.Logger {
	return pkgLogger.Load()
}
