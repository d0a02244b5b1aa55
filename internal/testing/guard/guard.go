// Package guard switches the binaries into test mode when blank-imported
// from a main package's tests.
package guard

import (
	"os"

	"github.com/odyssey-erp/customer-portal/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
}
