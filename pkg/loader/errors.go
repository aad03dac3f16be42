package loader

import (
	"fmt"

	"github.com/evreng/treadmill/pkg/metrics"
)

// ErrIntegrityViolation wraps an app name that failed the placement
// integrity check (spec.md section 7: "IntegrityViolation ... logged
// critical ... otherwise forces leader exit").
type ErrIntegrityViolation struct {
	App string
}

func (e *ErrIntegrityViolation) Error() string {
	return fmt.Sprintf("loader: integrity violation for app %s", e.App)
}

func errIntegrityViolation(app string) error {
	return &ErrIntegrityViolation{App: app}
}

func metricsIncrementIntegrityViolation() {
	metrics.IntegrityViolationsTotal.Inc()
}
