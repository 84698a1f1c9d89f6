package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hl-delta-neutral/internal/book"
	"hl-delta-neutral/internal/hl/rest"

	"github.com/shopspring/decimal"
)

type perpMeta struct {
	Universe []struct {
		Name       string `json:"name"`
		SzDecimals int    `json:"szDecimals"`
		IsDelisted bool   `json:"isDelisted"`
	} `json:"universe"`
}

type perpAssetCtx struct {
	OraclePx decimal.Decimal `json:"oraclePx"`
	MarkPx   decimal.Decimal `json:"markPx"`
}

type spotToken struct {
	Name       string `json:"name"`
	Index      int    `json:"index"`
	SzDecimals int    `json:"szDecimals"`
}

type spotMeta struct {
	Universe []struct {
		Name   string `json:"name"`
		Index  int    `json:"index"`
		Tokens []int  `json:"tokens"`
	} `json:"universe"`
	Tokens []spotToken `json:"tokens"`
}

// wsMessage is the push envelope; Data is decoded per channel.
type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsMids struct {
	Mids map[string]decimal.Decimal `json:"mids"`
}

// decodePerpContexts reads a metaAndAssetCtxs reply, which is the pair
// [meta, assetCtxs] with contexts aligned to the universe by position.
// The position is the perp asset index.
func decodePerpContexts(raw []byte) (map[string]PerpContext, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs: %w", err)
	}
	if len(pair) < 2 {
		return nil, errors.New("metaAndAssetCtxs: expected [meta, assetCtxs]")
	}
	var meta perpMeta
	if err := json.Unmarshal(pair[0], &meta); err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs meta: %w", err)
	}
	var ctxs []perpAssetCtx
	if err := json.Unmarshal(pair[1], &ctxs); err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs ctxs: %w", err)
	}
	out := make(map[string]PerpContext, len(meta.Universe))
	for i, asset := range meta.Universe {
		if asset.Name == "" || asset.IsDelisted {
			continue
		}
		pc := PerpContext{Name: asset.Name, Index: i, SzDecimals: asset.SzDecimals}
		if i < len(ctxs) {
			pc.OraclePrice = ctxs[i].OraclePx
			pc.MarkPrice = ctxs[i].MarkPx
		}
		out[asset.Name] = pc
	}
	if len(out) == 0 {
		return nil, errors.New("metaAndAssetCtxs: empty universe")
	}
	return out, nil
}

// decodeSpotContexts reads a spotMeta reply. Each pair is reachable by its
// display symbol ("PURR/USDC"), its raw name ("@107") and, for the first pair
// listing it, by its base token.
func decodeSpotContexts(raw []byte) (map[string]SpotContext, error) {
	var meta spotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("spotMeta: %w", err)
	}
	if len(meta.Universe) == 0 {
		return nil, errors.New("spotMeta: empty universe")
	}
	tokens := make(map[int]spotToken, len(meta.Tokens))
	for _, tok := range meta.Tokens {
		tokens[tok.Index] = tok
	}
	out := make(map[string]SpotContext, 2*len(meta.Universe))
	for _, pair := range meta.Universe {
		sc := SpotContext{
			Index:           pair.Index,
			RawName:         pair.Name,
			MidKey:          pair.Name,
			BaseSzDecimals:  -1,
			QuoteSzDecimals: -1,
		}
		if len(pair.Tokens) >= 2 {
			if base, ok := tokens[pair.Tokens[0]]; ok {
				sc.Base, sc.BaseSzDecimals = base.Name, base.SzDecimals
			}
			if quote, ok := tokens[pair.Tokens[1]]; ok {
				sc.Quote, sc.QuoteSzDecimals = quote.Name, quote.SzDecimals
			}
		}
		sc.Symbol = pair.Name
		if (sc.Symbol == "" || strings.HasPrefix(sc.Symbol, "@")) && sc.Base != "" && sc.Quote != "" {
			sc.Symbol = sc.Base + "/" + sc.Quote
		}
		if sc.Symbol == "" {
			continue
		}
		if sc.MidKey == "" {
			sc.MidKey = sc.Symbol
		}
		out[sc.Symbol] = sc
		if pair.Name != "" {
			out[pair.Name] = sc
		}
		if sc.Base != "" {
			if _, taken := out[sc.Base]; !taken {
				out[sc.Base] = sc
			}
		}
	}
	return out, nil
}

// bookLevels converts an l2Book snapshot into bids and asks for the cache.
// ok is false when the snapshot lacks either side.
func bookLevels(snap rest.L2Snapshot) (bids, asks []book.Level, at time.Time, ok bool) {
	if snap.Coin == "" || len(snap.Levels) < 2 {
		return nil, nil, time.Time{}, false
	}
	at = time.Now().UTC()
	if snap.Time > 0 {
		at = time.UnixMilli(snap.Time).UTC()
	}
	return toLevels(snap.Levels[0]), toLevels(snap.Levels[1]), at, true
}

func toLevels(in []rest.L2Level) []book.Level {
	out := make([]book.Level, 0, len(in))
	for _, lvl := range in {
		if lvl.Px.Sign() <= 0 {
			continue
		}
		out = append(out, book.Level{Price: lvl.Px, Size: lvl.Sz})
	}
	return out
}
