package opensea

import (
	"encoding/json"

	"github.com/Sternrassler/contractooor/pkg/pagination"
)

// Asset is one item of a collection listing.
type Asset struct {
	ID               int64         `json:"id"`
	TokenID          string        `json:"token_id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	ImageURL         string        `json:"image_url"`
	ImageOriginalURL string        `json:"image_original_url"`
	AssetContract    AssetContract `json:"asset_contract"`
	Collection       Collection    `json:"collection"`
	Traits           []Trait       `json:"traits"`
}

// ImageSource returns the original image URL when known.
func (a Asset) ImageSource() string {
	if a.ImageOriginalURL != "" {
		return a.ImageOriginalURL
	}
	return a.ImageURL
}

// AssetContract identifies the contract an asset lives on.
type AssetContract struct {
	Address string `json:"address"`
}

// Collection identifies the collection an asset belongs to.
type Collection struct {
	Slug string `json:"slug"`
}

// Trait is one metadata attribute.
type Trait struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// AssetEvent is a raw event record. The embedded asset is stripped.
type AssetEvent map[string]json.RawMessage

// Owner is one holder of an asset.
type Owner struct {
	Owner    Account `json:"owner"`
	Quantity string  `json:"quantity"`
}

// Account is an OpenSea account reference.
type Account struct {
	Address string `json:"address"`
}

// Metadata is the document stored per token.
type Metadata struct {
	ID                      string       `json:"id,omitempty"`
	Name                    string       `json:"name"`
	Description             string       `json:"description"`
	Image                   string       `json:"image"`
	OriginalContractAddress string       `json:"original_contract_address,omitempty"`
	OriginalTokenID         string       `json:"original_token_id,omitempty"`
	Attributes              []Trait      `json:"attributes,omitempty"`
	Owners                  []Owner      `json:"owners,omitempty"`
	Events                  []AssetEvent `json:"events,omitempty"`
}

type assetsPage struct {
	Assets []Asset `json:"assets"`
	Next   string  `json:"next"`
}

func (p assetsPage) page() pagination.Page[Asset] {
	return pagination.Page[Asset]{Items: p.Assets, Next: pagination.Cursor(p.Next)}
}

type eventsPage struct {
	AssetEvents []AssetEvent `json:"asset_events"`
	Next        string       `json:"next"`
}

func (p eventsPage) page() pagination.Page[AssetEvent] {
	for _, ev := range p.AssetEvents {
		delete(ev, "asset")
	}
	return pagination.Page[AssetEvent]{Items: p.AssetEvents, Next: pagination.Cursor(p.Next)}
}

type ownersPage struct {
	Owners []Owner `json:"owners"`
	Next   string  `json:"next"`
}

func (p ownersPage) page() pagination.Page[Owner] {
	return pagination.Page[Owner]{Items: p.Owners, Next: pagination.Cursor(p.Next)}
}
