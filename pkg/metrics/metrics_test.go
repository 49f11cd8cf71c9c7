package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating on a private registry with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the collectors are registered there", func() {
				So(manager, ShouldNotBeNil)
				manager.eventsDuplicate.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_events_duplicate_total"], ShouldBeTrue)
			})
		})

		Convey("When options are empty", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "proctor")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording typed detection metrics", func() {
			before := testutil.ToFloat64(globalManager.detectionsFired.WithLabelValues("noFace"))
			RecordDetectionFired("noFace")
			RecordDetectionFired("noFace")

			Convey("Then the labelled counter advances", func() {
				after := testutil.ToFloat64(globalManager.detectionsFired.WithLabelValues("noFace"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When setting gauges", func() {
			UpdateLiveClients(3)
			UpdateQueueSize(7)
			UpdateBreakerState(2)

			Convey("Then the latest value wins", func() {
				So(testutil.ToFloat64(globalManager.liveClients), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.breakerState), ShouldEqual, 2)
			})
		})

		Convey("When recording everything else", func() {
			So(func() {
				RecordEventReceived("cellPhone")
				RecordEventDuplicate()
				RecordLogSubmitted()
				RecordResultSubmitted()
				RecordReportLatency(3)
				RecordVideoChunk(1024)
				RecordDetectionSuppressed("cellPhone")
				RecordCaptureFailure("source_not_ready")
				RecordEvidenceUpload("ok")
				RecordTransportFailure("post_event")
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.5)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(1)
				UpdateWorkerActiveCount(2)
				RecordWorkerProcessingLatency(4)
				RecordWorkerError()
				RecordLiveBroadcast()
				RecordLiveDropped()
				RecordHTTPRequest("/results", "GET", "200")
				RecordHTTPRequestDuration("/results", "GET", "200", 12)
				RecordErrorByComponent("api", "bad_request")
				RecordErrorByType("bad_request", "medium")
				RecordErrorByEndpoint("/results", "POST", "client_error")
				RecordErrorLatency("http", "client_error", 2)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.2)
			}, ShouldNotPanic)
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
