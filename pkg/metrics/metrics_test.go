package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerOptions(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		Convey("When created with a private registry", func() {
			reg := prometheus.NewRegistry()
			m := NewManager(
				WithPrometheusRegistry(reg),
				WithNamespace("test"),
				WithSubsystem("engine"),
				WithHistogramBuckets([]float64{1, 5, 10}),
			)

			Convey("Then it registers without panicking", func() {
				So(m, ShouldNotBeNil)
				So(m.namespace, ShouldEqual, "test")
				So(m.subsystem, ShouldEqual, "engine")
			})
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording engine activity", func() {
			RecordRecompute("sweep")
			RecordRecomputeError("triggered")
			RecordRecomputeLatency(12.5)
			RecordBucketWritten("pulse")
			RecordBucketDeleted("compliance")
			RecordSweepPass()
			RecordSweepPassDuration(50 * time.Millisecond)
			RecordSweepEntityDays(3)
			UpdateWatermarkLag("org-1", 90*time.Second)
			UpdateQueueSize(4)
			UpdateQueueCapacity(128)
			RecordQueueEnqueue()
			RecordQueueDrop()
			RecordQueueDequeue()
			RecordCacheHit()
			RecordCacheMiss()
			RecordCacheInvalidated(2)
			RecordQueryPath("pulse", "rollup")
			RecordShadowDivergence()
			RecordHTTPRequest("healthz", "GET", "200")
			RecordHTTPRequestDuration("healthz", "GET", "200", 1.2)

			Convey("Then the registry gathers without error", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})
	})
}
