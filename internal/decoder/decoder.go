// Package decoder turns raw contract logs into typed protocol events.
package decoder

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendingScope/internal/felt"
	"lendingScope/internal/model"
)

// Event names as declared by the lending contract.
const (
	NameSigned     = "AgreementSigned"
	NameCancelled  = "AgreementCancelled"
	NameLiquidated = "AgreementLiquidated"
	NameRepaid     = "AgreementRepaid"
	NameRedeemed   = "SharesRedeemed"
)

type arity struct {
	keys int
	data int
}

var arities = map[model.EventKind]arity{
	model.KindSigned:     {keys: 1, data: 5},
	model.KindCancelled:  {keys: 1, data: 2},
	model.KindLiquidated: {keys: 1, data: 2},
	model.KindRepaid:     {keys: 3, data: 1},
	model.KindRedeemed:   {keys: 4, data: 2},
}

// MalformedEventError reports a recognized event whose shape does not match
// its declared layout.
type MalformedEventError struct {
	Kind     model.EventKind
	TxHash   string
	Block    uint64
	LogIndex uint32
	Reason   string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event in tx %s (block %d, log %d): %s", e.Kind, e.TxHash, e.Block, e.LogIndex, e.Reason)
}

// Decoder maps selectors to event kinds and decodes logs accordingly.
type Decoder struct {
	selectors map[uint256.Int]model.EventKind
}

// DefaultSelectors returns the selector of every protocol event, keyed by kind.
func DefaultSelectors() map[model.EventKind]uint256.Int {
	return map[model.EventKind]uint256.Int{
		model.KindSigned:     felt.Selector(NameSigned),
		model.KindCancelled:  felt.Selector(NameCancelled),
		model.KindLiquidated: felt.Selector(NameLiquidated),
		model.KindRepaid:     felt.Selector(NameRepaid),
		model.KindRedeemed:   felt.Selector(NameRedeemed),
	}
}

// New builds a decoder over the default selectors plus extra selector->kind
// mappings (e.g. for a renamed event on an upgraded contract).
func New(extra map[string]string) (*Decoder, error) {
	d := &Decoder{selectors: make(map[uint256.Int]model.EventKind, len(arities)+len(extra))}
	for kind, sel := range DefaultSelectors() {
		d.selectors[sel] = kind
	}
	for rawSel, rawKind := range extra {
		sel, err := felt.Parse(rawSel)
		if err != nil {
			return nil, fmt.Errorf("selector map: %w", err)
		}
		kind := model.EventKind(strings.ToLower(strings.TrimSpace(rawKind)))
		if _, ok := arities[kind]; !ok {
			return nil, fmt.Errorf("selector map: unknown event kind %q", rawKind)
		}
		d.selectors[sel] = kind
	}
	return d, nil
}

// Selectors returns every selector the decoder recognizes, as canonical hex.
func (d *Decoder) Selectors() []string {
	out := make([]string, 0, len(d.selectors))
	for sel := range d.selectors {
		out = append(out, felt.Hex(sel))
	}
	return out
}

// Decode converts a raw log. An unknown selector yields model.Unrecognized
// and no error; a recognized selector with the wrong shape yields a
// *MalformedEventError.
func (d *Decoder) Decode(raw model.RawEvent) (model.Event, error) {
	pos := model.Position{
		TxHash:      canonical(raw.TransactionHash),
		BlockNumber: raw.BlockNumber,
		BlockHash:   canonical(raw.BlockHash),
		LogIndex:    raw.LogIndex,
		Timestamp:   raw.Timestamp,
	}
	if len(raw.Keys) == 0 {
		return model.Unrecognized{Position: pos}, nil
	}
	sel, err := felt.Parse(raw.Keys[0])
	if err != nil {
		return model.Unrecognized{Position: pos, Selector: raw.Keys[0]}, nil
	}
	kind, ok := d.selectors[sel]
	if !ok {
		return model.Unrecognized{Position: pos, Selector: felt.Hex(sel)}, nil
	}

	malformed := func(format string, args ...any) error {
		return &MalformedEventError{
			Kind:     kind,
			TxHash:   pos.TxHash,
			Block:    pos.BlockNumber,
			LogIndex: pos.LogIndex,
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	want := arities[kind]
	if len(raw.Keys) != want.keys || len(raw.Data) != want.data {
		return nil, malformed("want %d keys/%d data, got %d/%d", want.keys, want.data, len(raw.Keys), len(raw.Data))
	}

	switch kind {
	case model.KindSigned:
		id, err := felt.ParseParts(raw.Data[0], raw.Data[1])
		if err != nil {
			return nil, malformed("id: %v", err)
		}
		lender, err := felt.Normalize(raw.Data[2])
		if err != nil {
			return nil, malformed("lender: %v", err)
		}
		pct, err := felt.ParseParts(raw.Data[3], raw.Data[4])
		if err != nil {
			return nil, malformed("issued debt percentage: %v", err)
		}
		return model.Signed{Position: pos, ID: id, Lender: lender, IssuedDebtPercentage: pct}, nil

	case model.KindCancelled, model.KindLiquidated:
		id, err := felt.ParseParts(raw.Data[0], raw.Data[1])
		if err != nil {
			return nil, malformed("id: %v", err)
		}
		if kind == model.KindCancelled {
			return model.Cancelled{Position: pos, ID: id}, nil
		}
		return model.Liquidated{Position: pos, ID: id}, nil

	case model.KindRepaid:
		id, err := felt.ParseParts(raw.Keys[1], raw.Keys[2])
		if err != nil {
			return nil, malformed("id: %v", err)
		}
		repayer, err := felt.Normalize(raw.Data[0])
		if err != nil {
			return nil, malformed("repayer: %v", err)
		}
		return model.Repaid{Position: pos, ID: id, Repayer: repayer}, nil

	case model.KindRedeemed:
		id, err := felt.ParseParts(raw.Keys[1], raw.Keys[2])
		if err != nil {
			return nil, malformed("id: %v", err)
		}
		redeemer, err := felt.Normalize(raw.Keys[3])
		if err != nil {
			return nil, malformed("redeemer: %v", err)
		}
		shares, err := felt.ParseParts(raw.Data[0], raw.Data[1])
		if err != nil {
			return nil, malformed("shares: %v", err)
		}
		return model.Redeemed{Position: pos, ID: id, Redeemer: redeemer, Shares: shares}, nil
	}

	return model.Unrecognized{Position: pos, Selector: felt.Hex(sel)}, nil
}

// canonical normalizes hashes so the same transaction always yields the same
// idempotency key. Unparseable input is kept verbatim.
func canonical(s string) string {
	if s == "" {
		return ""
	}
	out, err := felt.Normalize(s)
	if err != nil {
		return s
	}
	return out
}
