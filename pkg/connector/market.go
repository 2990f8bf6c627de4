package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
)

// SymbolFromTradingPair converts "BASE-QUOTE" to the exchange's "BASE_QUOTE".
func SymbolFromTradingPair(pair string) string {
	return strings.Replace(pair, "-", "_", 1)
}

// TradingPairFromSymbol converts "BASE_QUOTE" to "BASE-QUOTE".
func TradingPairFromSymbol(symbol string) string {
	return strings.Replace(symbol, "_", "-", 1)
}

// MarketResolver maps trading pairs to exchange market metadata for one
// chain. Every Resolve re-fetches the listing; cached values are replaced
// wholesale, never mutated.
type MarketResolver struct {
	api     APIRequester
	chainID int64
	logger  *zap.SugaredLogger

	listing atomic.Pointer[[]exchange.Market]
	current atomic.Pointer[MarketInfo]
}

func NewMarketResolver(api APIRequester, chainID int64, logger *zap.SugaredLogger) *MarketResolver {
	return &MarketResolver{api: api, chainID: chainID, logger: logger}
}

// Resolve fetches the verified market listing, picks the unique entry for
// tradingPair on this chain, and loads its detail.
func (r *MarketResolver) Resolve(ctx context.Context, tradingPair string) (MarketInfo, error) {
	symbol := SymbolFromTradingPair(tradingPair)

	match, err := r.lookup(ctx, symbol)
	if err != nil {
		return MarketInfo{}, err
	}

	var detail exchange.Market
	if err := r.api.Do(ctx, http.MethodGet, exchange.MarketDetailPath(r.chainID, match.ID), nil, nil, &detail); err != nil {
		return MarketInfo{}, fmt.Errorf("failed to fetch market %s: %w", match.ID, err)
	}
	if detail.ID == "" {
		detail = match
	}

	info, err := r.toMarketInfo(detail, tradingPair)
	if err != nil {
		return MarketInfo{}, err
	}
	r.current.Store(&info)
	return info, nil
}

// Current returns the most recently resolved market.
func (r *MarketResolver) Current() (MarketInfo, bool) {
	m := r.current.Load()
	if m == nil {
		return MarketInfo{}, false
	}
	return *m, true
}

// Listing returns the most recently fetched verified market listing.
func (r *MarketResolver) Listing() []exchange.Market {
	l := r.listing.Load()
	if l == nil {
		return nil
	}
	return *l
}

// TradingRules derives tick sizes for every listed market on this chain.
func (r *MarketResolver) TradingRules(ctx context.Context) ([]TradingRule, error) {
	markets, err := r.fetchListing(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]TradingRule, 0, len(markets))
	for _, m := range markets {
		if m.Chain() != r.chainID || !strings.Contains(m.Symbol, "_") {
			continue
		}
		rules = append(rules, TradingRule{
			TradingPair:            TradingPairFromSymbol(m.Symbol),
			MinOrderSize:           decimal.New(1, -4),
			MinPriceIncrement:      decimal.New(1, -m.QuotePrecision),
			MinBaseAmountIncrement: decimal.New(1, -m.BasePrecision),
		})
	}
	return rules, nil
}

func (r *MarketResolver) lookup(ctx context.Context, symbol string) (exchange.Market, error) {
	var matches []exchange.Market
	// a duplicated listing gets one fresh fetch before it is treated as an error
	for attempt := 0; attempt < 2; attempt++ {
		markets, err := r.fetchListing(ctx)
		if err != nil {
			return exchange.Market{}, err
		}
		matches = matches[:0]
		for _, m := range markets {
			if m.Chain() == r.chainID && m.Symbol == symbol {
				matches = append(matches, m)
			}
		}
		if len(matches) <= 1 {
			break
		}
		r.logger.Warnw("market_listing_ambiguous", "symbol", symbol, "chain_id", r.chainID, "matches", len(matches))
	}

	switch len(matches) {
	case 0:
		return exchange.Market{}, fmt.Errorf("%w: %s on chain %d", ErrMarketNotFound, symbol, r.chainID)
	case 1:
		return matches[0], nil
	default:
		return exchange.Market{}, fmt.Errorf("%w: %s on chain %d", ErrAmbiguousMarket, symbol, r.chainID)
	}
}

func (r *MarketResolver) fetchListing(ctx context.Context) ([]exchange.Market, error) {
	params := url.Values{
		"page":       {"1"},
		"sort_order": {"desc"},
		"sort_by":    {"volume"},
		"page_size":  {"20"},
		"verified":   {"true"},
	}
	var markets []exchange.Market
	if err := r.api.Do(ctx, http.MethodGet, exchange.MarketListPath(r.chainID), params, nil, &markets); err != nil {
		return nil, fmt.Errorf("failed to fetch market list: %w", err)
	}
	r.listing.Store(&markets)
	return markets, nil
}

func (r *MarketResolver) toMarketInfo(m exchange.Market, tradingPair string) (MarketInfo, error) {
	if m.BasePrecision < 0 || m.QuotePrecision < 0 {
		return MarketInfo{}, fmt.Errorf("market %s has negative precision", m.ID)
	}
	if !common.IsHexAddress(m.BaseContractAddress) || !common.IsHexAddress(m.QuoteContractAddress) {
		return MarketInfo{}, fmt.Errorf("market %s has invalid contract addresses", m.ID)
	}
	chain := m.Chain()
	if chain == 0 {
		chain = r.chainID
	}
	base, quote := m.BaseSymbol, m.QuoteSymbol
	if parts := strings.SplitN(m.Symbol, "_", 2); len(parts) == 2 {
		if base == "" {
			base = parts[0]
		}
		if quote == "" {
			quote = parts[1]
		}
	}
	return MarketInfo{
		ID:             m.ID,
		Symbol:         m.Symbol,
		TradingPair:    tradingPair,
		ChainID:        chain,
		BaseSymbol:     base,
		QuoteSymbol:    quote,
		BaseContract:   common.HexToAddress(m.BaseContractAddress),
		QuoteContract:  common.HexToAddress(m.QuoteContractAddress),
		BasePrecision:  m.BasePrecision,
		QuotePrecision: m.QuotePrecision,
		BaseDecimals:   m.BaseDecimal,
		QuoteDecimals:  m.QuoteDecimal,
	}, nil
}
