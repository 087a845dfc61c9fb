package resync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

// restLevel is the wire shape of a single book level in the CLOB REST
// book-snapshot response: string-encoded price/size, same convention the
// WebSocket feed uses, so fixedpoint parsing is shared with the decoder.
type restLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// restBookResponse is the JSON shape of GET /book?token_id=....
type restBookResponse struct {
	AssetID string      `json:"asset_id"`
	Bids    []restLevel `json:"bids"`
	Asks    []restLevel `json:"asks"`
	Hash    string      `json:"hash"`
}

// RESTSource fetches snapshots from the CLOB REST API, grounded on the
// teacher's market.Scanner resty client (base URL, timeout, retry count all
// configured the same way, repointed at the /book endpoint instead of
// /markets).
type RESTSource struct {
	client *resty.Client
}

// NewRESTSource builds a RESTSource pointed at baseURL.
func NewRESTSource(baseURL string, timeout time.Duration) *RESTSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // retry/backoff is the Coordinator's job, not the HTTP client's

	return &RESTSource{client: client}
}

// FetchSnapshot implements SnapshotSource.
func (s *RESTSource) FetchSnapshot(ctx context.Context, asset streamtypes.AssetId) (Snapshot, error) {
	var body restBookResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("token_id", string(asset)).
		SetResult(&body).
		Get("/book")
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch book snapshot: %w", err)
	}
	if resp.StatusCode() != 200 {
		return Snapshot{}, fmt.Errorf("fetch book snapshot: status %d", resp.StatusCode())
	}

	bids, err := convertLevels(body.Bids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse bid levels: %w", err)
	}
	asks, err := convertLevels(body.Asks)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse ask levels: %w", err)
	}

	return Snapshot{
		Asset:  asset,
		Bids:   bids,
		Asks:   asks,
		Digest: body.Hash,
	}, nil
}

func convertLevels(in []restLevel) ([]streamtypes.PriceLevel, error) {
	out := make([]streamtypes.PriceLevel, 0, len(in))
	for _, l := range in {
		price, err := fixedpoint.Parse(l.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", l.Price, err)
		}
		size, err := fixedpoint.Parse(l.Size)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", l.Size, err)
		}
		out = append(out, streamtypes.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}
