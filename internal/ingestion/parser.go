package ingestion

import (
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"

	"PerpIndexer/internal/event"
)

// Wire shapes for the JSON payloads carried on each subject. Raw token
// amounts travel as base-10 strings since they exceed int64.

type wireContext struct {
	BlockNumber int64  `json:"block_number"`
	Timestamp   int64  `json:"timestamp"`
	TxHash      string `json:"tx_hash"`
	TxIndex     int64  `json:"tx_index"`
	LogIndex    int64  `json:"log_index"`
}

func (c *wireContext) validate() error {
	if c.TxHash == "" {
		return errors.New("missing tx_hash")
	}
	if c.BlockNumber <= 0 {
		return errors.New("missing block_number")
	}
	return nil
}

func (c *wireContext) context() event.Context {
	return event.Context{
		BlockNumber: c.BlockNumber,
		Timestamp:   c.Timestamp,
		TxHash:      c.TxHash,
		TxIndex:     c.TxIndex,
		LogIndex:    c.LogIndex,
	}
}

type wireMarketEvent struct {
	wireContext
	MarketKey     string `json:"market_key"`
	MarketAddress string `json:"market_address"`
}

type wireProxyAccountCreated struct {
	wireContext
	Proxy   string `json:"proxy"`
	Creator string `json:"creator"`
	Version string `json:"version"`
}

type wireMarginTransferred struct {
	wireContext
	MarketAddress string `json:"market_address"`
	Account       string `json:"account"`
	MarginDelta   string `json:"margin_delta"`
}

type wireFundingRecomputed struct {
	wireContext
	MarketAddress string `json:"market_address"`
	Index         int64  `json:"index"`
	Funding       string `json:"funding"`
}

type wirePositionModified struct {
	wireContext
	MarketAddress string `json:"market_address"`
	Account       string `json:"account"`
	Size          string `json:"size"`
	TradeSize     string `json:"trade_size"`
	LastPrice     string `json:"last_price"`
	Margin        string `json:"margin"`
	Fee           string `json:"fee"`
	FundingIndex  int64  `json:"funding_index"`
	Skew          string `json:"skew,omitempty"`
}

type wirePositionLiquidated struct {
	wireContext
	MarketAddress string `json:"market_address"`
	Account       string `json:"account"`
	Liquidator    string `json:"liquidator"`
	Fee           string `json:"fee,omitempty"`
	FlaggerFee    string `json:"flagger_fee,omitempty"`
	LiquidatorFee string `json:"liquidator_fee,omitempty"`
	StakersFee    string `json:"stakers_fee,omitempty"`
}

// ParseRawEvent decodes one NATS payload into a typed event according
// to the kind its subject carries.
func ParseRawEvent(kind event.Kind, data []byte) (event.Event, error) {
	switch kind {
	case event.KindMarketAdded, event.KindMarketRemoved:
		var w wireMarketEvent
		if err := decode(data, &w); err != nil {
			return nil, err
		}
		if w.MarketAddress == "" {
			return nil, errors.New("missing market_address")
		}
		if kind == event.KindMarketAdded {
			return &event.MarketAdded{MarketKey: w.MarketKey, MarketAddress: w.MarketAddress, Ctx: w.context()}, nil
		}
		return &event.MarketRemoved{MarketKey: w.MarketKey, MarketAddress: w.MarketAddress, Ctx: w.context()}, nil

	case event.KindProxyAccountCreated:
		var w wireProxyAccountCreated
		if err := decode(data, &w); err != nil {
			return nil, err
		}
		if w.Proxy == "" || w.Creator == "" {
			return nil, errors.New("missing proxy or creator")
		}
		return &event.ProxyAccountCreated{Proxy: w.Proxy, Creator: w.Creator, Version: w.Version, Ctx: w.context()}, nil

	case event.KindMarginTransferred:
		var w wireMarginTransferred
		if err := decode(data, &w); err != nil {
			return nil, err
		}
		delta, err := parseBig(w.MarginDelta, "margin_delta")
		if err != nil {
			return nil, err
		}
		return &event.MarginTransferred{
			MarketAddress: w.MarketAddress,
			Account:       w.Account,
			MarginDelta:   delta,
			Ctx:           w.context(),
		}, nil

	case event.KindFundingRecomputed:
		var w wireFundingRecomputed
		if err := decode(data, &w); err != nil {
			return nil, err
		}
		funding, err := parseBig(w.Funding, "funding")
		if err != nil {
			return nil, err
		}
		return &event.FundingRecomputed{
			MarketAddress: w.MarketAddress,
			Index:         w.Index,
			Funding:       funding,
			Ctx:           w.context(),
		}, nil

	case event.KindPositionModified, event.KindPositionModifiedV2:
		var w wirePositionModified
		if err := decode(data, &w); err != nil {
			return nil, err
		}
		size, err := parseBig(w.Size, "size")
		if err != nil {
			return nil, err
		}
		tradeSize, err := parseBig(w.TradeSize, "trade_size")
		if err != nil {
			return nil, err
		}
		lastPrice, err := parseBig(w.LastPrice, "last_price")
		if err != nil {
			return nil, err
		}
		margin, err := parseBig(w.Margin, "margin")
		if err != nil {
			return nil, err
		}
		fee, err := parseBig(w.Fee, "fee")
		if err != nil {
			return nil, err
		}

		if kind == event.KindPositionModified {
			return &event.PositionModified{
				MarketAddress: w.MarketAddress,
				Account:       w.Account,
				Size:          size,
				TradeSize:     tradeSize,
				LastPrice:     lastPrice,
				Margin:        margin,
				Fee:           fee,
				FundingIndex:  w.FundingIndex,
				Ctx:           w.context(),
			}, nil
		}
		skew, err := parseBig(w.Skew, "skew")
		if err != nil {
			return nil, err
		}
		return &event.PositionModifiedV2{
			MarketAddress: w.MarketAddress,
			Account:       w.Account,
			Size:          size,
			TradeSize:     tradeSize,
			LastPrice:     lastPrice,
			Margin:        margin,
			Fee:           fee,
			FundingIndex:  w.FundingIndex,
			Skew:          skew,
			Ctx:           w.context(),
		}, nil

	case event.KindPositionLiquidated:
		var w wirePositionLiquidated
		if err := decode(data, &w); err != nil {
			return nil, err
		}
		fee, err := parseBig(w.Fee, "fee")
		if err != nil {
			return nil, err
		}
		return &event.PositionLiquidated{
			MarketAddress: w.MarketAddress,
			Account:       w.Account,
			Liquidator:    w.Liquidator,
			Fee:           fee,
			Ctx:           w.context(),
		}, nil

	case event.KindPositionLiquidatedV2:
		var w wirePositionLiquidated
		if err := decode(data, &w); err != nil {
			return nil, err
		}
		flagger, err := parseBig(w.FlaggerFee, "flagger_fee")
		if err != nil {
			return nil, err
		}
		liquidator, err := parseBig(w.LiquidatorFee, "liquidator_fee")
		if err != nil {
			return nil, err
		}
		stakers, err := parseBig(w.StakersFee, "stakers_fee")
		if err != nil {
			return nil, err
		}
		return &event.PositionLiquidatedV2{
			MarketAddress: w.MarketAddress,
			Account:       w.Account,
			Liquidator:    w.Liquidator,
			FlaggerFee:    flagger,
			LiquidatorFee: liquidator,
			StakersFee:    stakers,
			Ctx:           w.context(),
		}, nil

	default:
		return nil, errors.Errorf("unknown event kind: %s", kind)
	}
}

func decode(data []byte, w interface{ validate() error }) error {
	if err := json.Unmarshal(data, w); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	return w.validate()
}

// parseBig parses a base-10 signed amount. Empty strings parse to zero;
// v2 liquidation payloads omit fee legs that are zero.
func parseBig(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}
