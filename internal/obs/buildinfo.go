package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "steeple_build_info",
			Help: "Build of the running binary, always 1.",
		},
		[]string{"version", "commit", "goversion"},
	)
	permissionCatalog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authz_permission_catalog_size",
		Help: "Number of permissions compiled into the binary.",
	})
)

// InitBuildInfo publishes the build labels and the size of the permission
// catalog. Safe to call more than once.
func InitBuildInfo(version, commit string, permissions int) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo, permissionCatalog)
	})
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
	permissionCatalog.Set(float64(permissions))
}
