package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") because the
// Gamma API sends "active" both ways.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// gammaToken is one outcome token inside a Gamma market response.
type gammaToken struct {
	TokenID string   `json:"token_id"`
	Outcome string   `json:"outcome"`
	Price   *float64 `json:"price"`
	Winner  bool     `json:"winner"`
}

// gammaMarket is a market as returned by the Gamma API. Several fields are
// JSON-encoded strings inside the JSON document; see the snapshot
// conversion for the fallback order.
type gammaMarket struct {
	ID            string       `json:"id"`
	Question      string       `json:"question"`
	ConditionID   string       `json:"conditionId"`
	Slug          string       `json:"slug"`
	Active        flexBool     `json:"active"`
	Closed        bool         `json:"closed"`
	NegRisk       bool         `json:"negRisk"`
	Tokens        []gammaToken `json:"tokens"`
	OutcomePrices string       `json:"outcomePrices"` // e.g. "[\"0.185\",\"0.815\"]"
	ClobTokenIDs  string       `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	LiquidityNum  float64      `json:"liquidityNum"`
	Volume24h     float64      `json:"volume24hr"`
	EndDate       string       `json:"endDate"`
	BestBid       *float64     `json:"bestBid"`
	BestAsk       *float64     `json:"bestAsk"`
}

// gammaEvent is an event as returned by the Gamma API.
type gammaEvent struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	NegRisk bool          `json:"negRisk"`
	Closed  bool          `json:"closed"`
	Markets []gammaMarket `json:"markets"`
}

// toSnapshot normalizes a Gamma market into a domain snapshot. Prices come
// from the tokens array first, then the JSON-encoded outcomePrices pair;
// token ids come from the tokens array first, then clobTokenIds. Missing
// values stay nil rather than reading as zero.
func (m *gammaMarket) toSnapshot(fetchedAt time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		ConditionID:  m.ConditionID,
		Question:     m.Question,
		Slug:         m.Slug,
		LiquidityUSD: m.LiquidityNum,
		Volume24h:    m.Volume24h,
		NegRisk:      m.NegRisk,
		FetchedAt:    fetchedAt,
	}

	for _, t := range m.Tokens {
		switch strings.ToUpper(t.Outcome) {
		case "YES":
			snap.YesTokenID = t.TokenID
			if t.Price != nil {
				snap.YesPrice = t.Price
			}
		case "NO":
			snap.NoTokenID = t.TokenID
			if t.Price != nil {
				snap.NoPrice = t.Price
			}
		}
	}

	if snap.YesPrice == nil || snap.NoPrice == nil {
		if prices := decodeFloatPair(m.OutcomePrices); prices != nil {
			if snap.YesPrice == nil {
				snap.YesPrice = prices[0]
			}
			if snap.NoPrice == nil {
				snap.NoPrice = prices[1]
			}
		}
	}

	if snap.YesTokenID == "" || snap.NoTokenID == "" {
		if ids := decodeStringPair(m.ClobTokenIDs); ids != nil {
			if snap.YesTokenID == "" {
				snap.YesTokenID = ids[0]
			}
			if snap.NoTokenID == "" {
				snap.NoTokenID = ids[1]
			}
		}
	}

	if m.EndDate != "" {
		if end, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			snap.EndTime = &end
		}
	}

	return snap
}

// toEvent converts a Gamma event, keeping the market order the API sent.
func (e *gammaEvent) toEvent(fetchedAt time.Time) domain.Event {
	ev := domain.Event{
		ID:      e.ID,
		Title:   e.Title,
		Slug:    e.Slug,
		NegRisk: e.NegRisk,
	}
	for i := range e.Markets {
		snap := e.Markets[i].toSnapshot(fetchedAt)
		ev.Outcomes = append(ev.Outcomes, domain.EventOutcome{
			ConditionID:  snap.ConditionID,
			Question:     snap.Question,
			YesPrice:     snap.YesPrice,
			YesTokenID:   snap.YesTokenID,
			LiquidityUSD: snap.LiquidityUSD,
		})
	}
	return ev
}

// decodeFloatPair parses a JSON-encoded array of at least two numbers or
// numeric strings. Returns nil when the field is absent or malformed.
func decodeFloatPair(encoded string) []*float64 {
	if encoded == "" {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(encoded), &raw); err != nil || len(raw) < 2 {
		return nil
	}
	out := make([]*float64, 2)
	for i := 0; i < 2; i++ {
		var f float64
		if err := json.Unmarshal(raw[i], &f); err == nil {
			out[i] = &f
			continue
		}
		var s string
		if err := json.Unmarshal(raw[i], &s); err != nil {
			continue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			out[i] = &f
		}
	}
	return out
}

// decodeStringPair parses a JSON-encoded array of at least two strings.
func decodeStringPair(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil || len(ids) < 2 {
		return nil
	}
	return ids[:2]
}

// apiOrderResult is the CLOB response to an order submission.
type apiOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

func (r *apiOrderResult) toDomain() domain.OrderResult {
	out := domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
	}
	switch r.Status {
	case "live", "open", "placed":
		out.Status = domain.OrderStatusOpen
	case "matched", "filled":
		out.Status = domain.OrderStatusMatched
	case "cancelled":
		out.Status = domain.OrderStatusCancelled
	default:
		if r.Success {
			out.Status = domain.OrderStatusPending
		} else {
			out.Status = domain.OrderStatusFailed
		}
	}
	return out
}

// apiOrder is an open order as returned by the CLOB.
type apiOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OriginalSize string `json:"original_size"`
	Price        string `json:"price"`
	MakerAmount  string `json:"maker_amount"`
	TakerAmount  string `json:"taker_amount"`
	Owner        string `json:"owner"`
	Signature    string `json:"signature"`
	CreatedAt    string `json:"created_at"`
}

func (a *apiOrder) toDomain() domain.Order {
	o := domain.Order{
		ID:        a.ID,
		TokenID:   a.AssetID,
		Wallet:    a.Owner,
		Signature: a.Signature,
	}

	switch a.Side {
	case "BUY":
		o.Side = domain.OrderSideBuy
	case "SELL":
		o.Side = domain.OrderSideSell
	}

	switch a.Status {
	case "live", "open":
		o.Status = domain.OrderStatusOpen
	case "matched", "filled":
		o.Status = domain.OrderStatusMatched
	case "cancelled":
		o.Status = domain.OrderStatusCancelled
	default:
		o.Status = domain.OrderStatusPending
	}

	if v, err := strconv.ParseFloat(a.Price, 64); err == nil {
		o.Price = v
	}
	if v, err := strconv.ParseFloat(a.OriginalSize, 64); err == nil {
		o.Size = v
	}
	if ts, err := strconv.ParseInt(a.CreatedAt, 10, 64); err == nil {
		o.CreatedAt = time.Unix(ts, 0).UTC()
	}

	return o
}
