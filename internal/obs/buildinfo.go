package obs

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "ecolex_build_info",
		Help: "Constant 1, labelled with the running binary's version.",
	},
	[]string{"version", "commit", "goversion"},
)

// InitBuildInfo publishes the binary's version labels. Call after Init.
func InitBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
