package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"wheelhouse-etl/models"
	"wheelhouse-etl/utils"
	"wheelhouse-etl/wheelhouse"
)

// ListingsPath is the paginated endpoint enumerating every listing.
const ListingsPath = "/listings"

var errMissingID = errors.New("missing listing identifier")

// PageSource is the slice of the API client discovery and fetching need.
type PageSource interface {
	GetPaginated(ctx context.Context, path string, query url.Values) *wheelhouse.Pager
}

// Discovery enumerates listing identifiers.
type Discovery struct {
	api    PageSource
	logger *utils.Logger

	duplicates int
}

// NewDiscovery creates a Discovery backed by api.
func NewDiscovery(api PageSource, logger *utils.Logger) *Discovery {
	return &Discovery{api: api, logger: logger}
}

// ListAllListings flattens every /listings page into one ordered slice.
// A listing id served more than once is kept at its first position only.
func (d *Discovery) ListAllListings(ctx context.Context) ([]models.Listing, error) {
	seen := utils.NewIDSet()
	listings := make([]models.Listing, 0)
	d.duplicates = 0

	pager := d.api.GetPaginated(ctx, ListingsPath, nil)
	for pager.Next() {
		page := pager.Page()
		for i, item := range page.Items {
			id, err := listingID(item)
			if err != nil {
				return nil, &DiscoveryError{
					Reason: fmt.Sprintf("page %d item %d", page.Number, i+1),
					Err:    err,
				}
			}
			if !seen.Add(id) {
				d.duplicates++
				d.logger.Debug("[discovery] Duplicate listing id skipped: %s", id)
				continue
			}
			listings = append(listings, models.Listing{ID: id})
		}
		d.logger.Debug("[discovery] Page %d: %d items (%d unique so far)", page.Number, len(page.Items), len(listings))
	}
	if err := pager.Err(); err != nil {
		return nil, &DiscoveryError{Reason: "request failed", Err: err}
	}

	if d.duplicates > 0 {
		d.logger.Warn("[discovery] Dropped %d duplicate listing ids", d.duplicates)
	}
	d.logger.Info("[discovery] Found %d listings", len(listings))
	return listings, nil
}

// Duplicates reports how many repeated ids the last ListAllListings dropped.
func (d *Discovery) Duplicates() int {
	return d.duplicates
}

// listingID accepts a bare string or number, or an object with "id" or
// "listing_id".
func listingID(item json.RawMessage) (string, error) {
	decoder := json.NewDecoder(bytes.NewReader(item))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return "", err
	}

	if obj, ok := value.(map[string]any); ok {
		for _, key := range []string{"id", "listing_id", "listingId"} {
			if raw, ok := obj[key]; ok {
				value = raw
				break
			}
		}
		if _, still := value.(map[string]any); still {
			return "", errMissingID
		}
	}

	id, ok := getString(value)
	if !ok {
		return "", errMissingID
	}
	return strings.TrimSpace(id), nil
}
