package cache

import (
	"context"
	"errors"
	"time"

	"tradeengine/internal/models"
)

const (
	marketDataTTL   = 15 * time.Second
	priceUpdateTTL  = 300 * time.Second
	marketDataKey   = "market_data:"
	priceUpdateKey  = "price:dist:"
	priceUpdateTail = ":latest"
)

// MarketDataCache stores the latest MarketData and PriceUpdate per pair
// under the keys external components expect.
type MarketDataCache struct {
	client *Client
}

func NewMarketDataCache(client *Client) *MarketDataCache {
	return &MarketDataCache{client: client}
}

func (c *MarketDataCache) SetMarketData(ctx context.Context, md models.MarketData) error {
	return c.client.SetJSON(ctx, marketDataKey+string(md.Pair), md, marketDataTTL)
}

// GetMarketData returns (data, true, nil) on a cache hit, (zero, false, nil)
// on a clean miss, and (zero, false, err) only for a real transport error.
func (c *MarketDataCache) GetMarketData(ctx context.Context, pair models.Pair) (models.MarketData, bool, error) {
	var md models.MarketData
	err := c.client.GetJSON(ctx, marketDataKey+string(pair), &md)
	if errors.Is(err, ErrNil) {
		return models.MarketData{}, false, nil
	}
	if err != nil {
		return models.MarketData{}, false, err
	}
	return md, true, nil
}

func (c *MarketDataCache) SetPriceUpdate(ctx context.Context, pu models.PriceUpdate) error {
	return c.client.SetJSON(ctx, priceUpdateKey+string(pu.Pair)+priceUpdateTail, pu, priceUpdateTTL)
}

func (c *MarketDataCache) GetPriceUpdate(ctx context.Context, pair models.Pair) (models.PriceUpdate, bool, error) {
	var pu models.PriceUpdate
	err := c.client.GetJSON(ctx, priceUpdateKey+string(pair)+priceUpdateTail, &pu)
	if errors.Is(err, ErrNil) {
		return models.PriceUpdate{}, false, nil
	}
	if err != nil {
		return models.PriceUpdate{}, false, err
	}
	return pu, true, nil
}
