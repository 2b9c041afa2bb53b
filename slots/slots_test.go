package slots

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/sparkvision/pipeline/vision/occupancy"
)

func TestHTTPProvider(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"slots":[
			{"id":"slot_1","bbox":{"x":10,"y":20,"width":100,"height":200}},
			{"id":"slot_2","bbox":{"x":150,"y":20,"width":100,"height":200}}
		]}`))
		test.That(t, err, test.ShouldBeNil)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	regions, err := p.SlotRegions(context.Background(), "lot_1", "zone_a")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotPath, test.ShouldContainSubstring, "parkingLotId=lot_1")
	test.That(t, gotPath, test.ShouldContainSubstring, "zoneId=zone_a")
	test.That(t, regions, test.ShouldHaveLength, 2)
	test.That(t, regions[0].ID, test.ShouldEqual, "slot_1")
	test.That(t, regions[0].Bounds, test.ShouldResemble, image.Rect(10, 20, 110, 220))
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	_, err := p.SlotRegions(context.Background(), "lot_1", "")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "status 503")
}

func TestStaticProvider(t *testing.T) {
	regions := []occupancy.SlotRegion{{ID: "s1", Bounds: image.Rect(0, 0, 10, 10)}}
	got, err := Static(regions).SlotRegions(context.Background(), "any", "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, regions)
}
