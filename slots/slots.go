// Package slots fetches configured parking-slot regions from the consumer
// API.
package slots

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/sparkvision/pipeline/vision/occupancy"
)

// Provider returns the slot regions configured for a parking lot (and
// optionally one of its zones).
type Provider interface {
	SlotRegions(ctx context.Context, parkingLotID, zoneID string) ([]occupancy.SlotRegion, error)
}

type slotRecord struct {
	ID   string `json:"id"`
	BBox struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"bbox"`
}

type slotsResponse struct {
	Slots []slotRecord `json:"slots"`
}

// httpProvider fetches slot regions from GET <base>/slots.
type httpProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider returns a Provider over the API at baseURL.
func NewHTTPProvider(baseURL string, timeout time.Duration) Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpProvider{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (p *httpProvider) SlotRegions(ctx context.Context, parkingLotID, zoneID string) ([]occupancy.SlotRegion, error) {
	query := url.Values{"parkingLotId": []string{parkingLotID}}
	if zoneID != "" {
		query.Set("zoneId", zoneID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/slots?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building slots request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching slot regions")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("slots endpoint returned status %d", resp.StatusCode)
	}

	var body slotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decoding slot regions")
	}
	regions := make([]occupancy.SlotRegion, 0, len(body.Slots))
	for _, rec := range body.Slots {
		regions = append(regions, occupancy.SlotRegion{
			ID: rec.ID,
			Bounds: image.Rect(
				rec.BBox.X, rec.BBox.Y,
				rec.BBox.X+rec.BBox.Width, rec.BBox.Y+rec.BBox.Height,
			),
		})
	}
	return regions, nil
}

// Static returns a Provider that always serves the given regions; used in
// tests and for file-configured deployments.
func Static(regions []occupancy.SlotRegion) Provider {
	return staticProvider(regions)
}

type staticProvider []occupancy.SlotRegion

func (s staticProvider) SlotRegions(context.Context, string, string) ([]occupancy.SlotRegion, error) {
	return []occupancy.SlotRegion(s), nil
}
