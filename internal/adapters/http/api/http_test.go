package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/cadencehq/cadence/internal/adapters/http/api"
	"github.com/cadencehq/cadence/internal/adapters/repository"
	service "github.com/cadencehq/cadence/internal/app"
	"github.com/cadencehq/cadence/internal/domain/model"
	"github.com/cadencehq/cadence/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*httptest.Server, *repository.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := service.New(
		service.WithStore(store),
		service.WithWorkerCount(2),
		service.WithSweepInterval(time.Hour),
	)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() { svc.Stop(ctx) })

	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthAndStats(t *testing.T) {
	Convey("Given a running API server", t, func() {
		ts, _ := newTestServer(t)

		Convey("GET /healthz reports ok", func() {
			resp, body := getJSON(t, ts.URL+"/healthz")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["status"], ShouldEqual, "ok")
		})

		Convey("GET /stats exposes engine state", func() {
			resp, body := getJSON(t, ts.URL+"/stats")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["started"], ShouldEqual, true)
			So(body["worker_count"], ShouldEqual, 2)
			So(body["use_rollups"], ShouldEqual, true)
			So(body, ShouldContainKey, "queue_length")
			So(body, ShouldContainKey, "cache_entries")
		})

		Convey("GET /metrics serves the Prometheus registry", func() {
			resp, err := http.Get(ts.URL + "/metrics")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}

func TestPostEvent(t *testing.T) {
	Convey("Given a running API server", t, func() {
		ts, store := newTestServer(t)

		Convey("A valid check-in event is accepted", func() {
			resp, body := postJSON(t, ts.URL+"/events", `{
				"event_id": "evt-1",
				"organization_id": "org-1",
				"user_id": "u1",
				"kind": "checkin_submitted",
				"occurred_at": "2026-04-07T10:30:00Z",
				"checkin": {"mood": 4, "completed": true}
			}`)
			So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			So(body["status"], ShouldEqual, "accepted")
			So(body["event_id"], ShouldEqual, "evt-1")

			events, err := store.Events(context.Background(), repository.EventFilter{OrganizationID: "org-1"})
			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 1)
		})

		Convey("A replayed event id is acknowledged as duplicate", func() {
			body := `{
				"event_id": "evt-dup",
				"organization_id": "org-1",
				"user_id": "u1",
				"kind": "shoutout_given"
			}`
			resp, _ := postJSON(t, ts.URL+"/events", body)
			So(resp.StatusCode, ShouldEqual, http.StatusAccepted)

			resp, decoded := postJSON(t, ts.URL+"/events", body)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(decoded["duplicate"], ShouldEqual, true)

			events, err := store.Events(context.Background(), repository.EventFilter{OrganizationID: "org-1"})
			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 1)
		})

		Convey("Malformed requests are rejected", func() {
			cases := []string{
				`not json`,
				`{"user_id": "u1", "kind": "shoutout_given"}`,
				`{"organization_id": "org-1", "kind": "shoutout_given"}`,
				`{"organization_id": "org-1", "user_id": "u1"}`,
				`{"organization_id": "org-1", "user_id": "u1", "kind": "shoutout_given", "occurred_at": "yesterday"}`,
				`{"organization_id": "org-1", "user_id": "u1", "kind": "promotion"}`,
				`{"organization_id": "org-1", "user_id": "u1", "kind": "checkin_submitted"}`,
			}
			for _, c := range cases {
				resp, _ := postJSON(t, ts.URL+"/events", c)
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("Only POST is routed", func() {
			resp, err := http.Get(ts.URL + "/events")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestAnalyticsEndpoints(t *testing.T) {
	Convey("Given an API server with one aggregated check-in", t, func() {
		ts, store := newTestServer(t)

		resp, _ := postJSON(t, ts.URL+"/events", `{
			"event_id": "evt-1",
			"organization_id": "org-1",
			"user_id": "u1",
			"kind": "checkin_submitted",
			"occurred_at": "2026-04-07T10:30:00Z",
			"checkin": {"mood": 4, "completed": true}
		}`)
		So(resp.StatusCode, ShouldEqual, http.StatusAccepted)

		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			buckets, err := store.PulseBuckets(context.Background(), repository.BucketFilter{OrganizationID: "org-1"})
			if err == nil && len(buckets) == 1 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		Convey("GET /analytics/pulse returns the report", func() {
			resp, body := getJSON(t, ts.URL+"/analytics/pulse?organization_id=org-1&period=month&from=2026-04-01&to=2026-04-30")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["organization_id"], ShouldEqual, "org-1")
			points := body["points"].([]any)
			So(points, ShouldHaveLength, 1)
			point := points[0].(map[string]any)
			So(point["checkin_count"], ShouldEqual, 1)
			So(point["mood_sum"], ShouldEqual, 4)
		})

		Convey("GET /analytics/shoutouts returns an empty report", func() {
			resp, body := getJSON(t, ts.URL+"/analytics/shoutouts?organization_id=org-1&period=month&from=2026-04-01&to=2026-04-30")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["points"], ShouldHaveLength, 0)
		})

		Convey("GET /analytics/checkin-compliance returns zeroed totals when nothing was due", func() {
			resp, body := getJSON(t, ts.URL+"/analytics/checkin-compliance?organization_id=org-1&period=month&from=2026-04-01&to=2026-04-30")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["total_due"], ShouldEqual, 0)
			So(body["on_time_percentage"], ShouldEqual, 0)
		})

		Convey("GET /analytics/review-compliance answers as well", func() {
			resp, _ := getJSON(t, ts.URL+"/analytics/review-compliance?organization_id=org-1&period=month&from=2026-04-01&to=2026-04-30")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})

		Convey("Missing organization_id is a client error", func() {
			resp, _ := getJSON(t, ts.URL+"/analytics/pulse?period=month")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An unknown period is a client error", func() {
			resp, _ := getJSON(t, ts.URL+"/analytics/pulse?organization_id=org-1&period=fortnight")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A scoped query without an entity id is a client error", func() {
			resp, _ := getJSON(t, ts.URL+"/analytics/pulse?organization_id=org-1&scope=user")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A malformed from date is a client error", func() {
			resp, _ := getJSON(t, ts.URL+"/analytics/pulse?organization_id=org-1&from=April")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestBackfillEndpoint(t *testing.T) {
	Convey("Given an API server with historical events", t, func() {
		ts, store := newTestServer(t)
		ctx := context.Background()

		old := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
		So(store.AppendEvent(ctx, eventFixture("hist-1", old)), ShouldBeNil)
		So(store.AppendEvent(ctx, eventFixture("hist-2", old.AddDate(0, 0, 1))), ShouldBeNil)

		Convey("POST /admin/backfill rebuilds the range", func() {
			resp, body := postJSON(t, ts.URL+"/admin/backfill", `{
				"organization_id": "org-1",
				"from": "2025-11-03",
				"to": "2025-11-04"
			}`)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["status"], ShouldEqual, "completed")

			buckets, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
			So(err, ShouldBeNil)
			So(buckets, ShouldHaveLength, 2)
		})

		Convey("An inverted range is a client error", func() {
			resp, _ := postJSON(t, ts.URL+"/admin/backfill", `{
				"organization_id": "org-1",
				"from": "2025-11-04",
				"to": "2025-11-03"
			}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Missing fields are client errors", func() {
			for _, c := range []string{
				`{"from": "2025-11-03", "to": "2025-11-04"}`,
				`{"organization_id": "org-1", "to": "2025-11-04"}`,
				`{"organization_id": "org-1", "from": "2025-11-03"}`,
			} {
				resp, _ := postJSON(t, ts.URL+"/admin/backfill", c)
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			}
		})
	})
}

func eventFixture(id string, occurred time.Time) model.Event {
	return model.Event{
		ID:             id,
		OrganizationID: "org-1",
		UserID:         "u1",
		Kind:           model.KindCheckinSubmitted,
		OccurredAt:     occurred,
		Checkin:        &model.CheckinPayload{Mood: 3, Completed: true},
	}
}
