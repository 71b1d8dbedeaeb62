// Package ctf decodes Polymarket conditional-token (CTF) contract logs into
// markets, trades and resolutions for the chain-log venue session.
package ctf

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/venue"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultContract is the conditional-tokens contract on Polygon.
const DefaultContract = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

// collateralUnit scales USDC-denominated token amounts (6 decimals).
var collateralUnit = big.NewFloat(1e6)

const contractABI = `[
  {"anonymous":false,"name":"TransferSingle","type":"event","inputs":[
    {"indexed":true,"name":"operator","type":"address"},
    {"indexed":true,"name":"from","type":"address"},
    {"indexed":true,"name":"to","type":"address"},
    {"indexed":false,"name":"id","type":"uint256"},
    {"indexed":false,"name":"value","type":"uint256"}]},
  {"anonymous":false,"name":"ConditionPreparation","type":"event","inputs":[
    {"indexed":true,"name":"conditionId","type":"bytes32"},
    {"indexed":true,"name":"oracle","type":"address"},
    {"indexed":true,"name":"questionId","type":"bytes32"},
    {"indexed":false,"name":"outcomeSlotCount","type":"uint256"}]},
  {"anonymous":false,"name":"ConditionResolution","type":"event","inputs":[
    {"indexed":true,"name":"conditionId","type":"bytes32"},
    {"indexed":true,"name":"oracle","type":"address"},
    {"indexed":true,"name":"questionId","type":"bytes32"},
    {"indexed":false,"name":"outcomeSlotCount","type":"uint256"},
    {"indexed":false,"name":"payoutNumerators","type":"uint256[]"}]}
]`

// Decoder implements venue.LogDecoder for the CTF contract.
type Decoder struct {
	address common.Address
	abi     abi.ABI

	transferSingle common.Hash
	preparation    common.Hash
	resolution     common.Hash
}

// NewDecoder builds a decoder for the contract at address. An empty address
// selects DefaultContract.
func NewDecoder(address string) (*Decoder, error) {
	if address == "" {
		address = DefaultContract
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("ctf: invalid contract address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("ctf: parse abi: %w", err)
	}
	return &Decoder{
		address:        common.HexToAddress(address),
		abi:            parsed,
		transferSingle: parsed.Events["TransferSingle"].ID,
		preparation:    parsed.Events["ConditionPreparation"].ID,
		resolution:     parsed.Events["ConditionResolution"].ID,
	}, nil
}

// FilterQuery selects the three decoded events on the contract.
func (d *Decoder) FilterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{d.address},
		Topics:    [][]common.Hash{{d.transferSingle, d.preparation, d.resolution}},
	}
}

// Decode maps one log to a chain event. Removed (reorged) logs and unknown
// topics are ignored.
func (d *Decoder) Decode(venueName string, lg types.Log, seenAt time.Time) (venue.ChainEvent, bool, error) {
	if lg.Removed || len(lg.Topics) == 0 {
		return venue.ChainEvent{}, false, nil
	}

	switch lg.Topics[0] {
	case d.transferSingle:
		return d.decodeTransfer(venueName, lg, seenAt)
	case d.preparation:
		return d.decodePreparation(venueName, lg, seenAt)
	case d.resolution:
		return d.decodeResolution(venueName, lg)
	}
	return venue.ChainEvent{}, false, nil
}

func (d *Decoder) decodeTransfer(venueName string, lg types.Log, seenAt time.Time) (venue.ChainEvent, bool, error) {
	if len(lg.Topics) != 4 {
		return venue.ChainEvent{}, false, fmt.Errorf("ctf: TransferSingle with %d topics", len(lg.Topics))
	}
	fields := map[string]any{}
	if err := d.abi.UnpackIntoMap(fields, "TransferSingle", lg.Data); err != nil {
		return venue.ChainEvent{}, false, fmt.Errorf("ctf: unpack TransferSingle: %w", err)
	}
	id, ok1 := fields["id"].(*big.Int)
	value, ok2 := fields["value"].(*big.Int)
	if !ok1 || !ok2 {
		return venue.ChainEvent{}, false, fmt.Errorf("ctf: TransferSingle fields have unexpected types")
	}

	from := common.BytesToAddress(lg.Topics[2].Bytes())
	to := common.BytesToAddress(lg.Topics[3].Bytes())
	side := "transfer"
	switch {
	case from == (common.Address{}):
		side = "mint"
	case to == (common.Address{}):
		side = "burn"
	}

	size, _ := new(big.Float).Quo(new(big.Float).SetInt(value), collateralUnit).Float64()
	return venue.ChainEvent{
		Kind: venue.ChainTrade,
		Trade: domain.Trade{
			Venue:      venueName,
			MarketID:   id.String(),
			TradeID:    fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index),
			Size:       size,
			Side:       side,
			TxHash:     lg.TxHash.Hex(),
			ExecutedAt: seenAt,
		},
	}, true, nil
}

func (d *Decoder) decodePreparation(venueName string, lg types.Log, seenAt time.Time) (venue.ChainEvent, bool, error) {
	if len(lg.Topics) != 4 {
		return venue.ChainEvent{}, false, fmt.Errorf("ctf: ConditionPreparation with %d topics", len(lg.Topics))
	}
	fields := map[string]any{}
	if err := d.abi.UnpackIntoMap(fields, "ConditionPreparation", lg.Data); err != nil {
		return venue.ChainEvent{}, false, fmt.Errorf("ctf: unpack ConditionPreparation: %w", err)
	}
	slots, _ := fields["outcomeSlotCount"].(*big.Int)

	conditionID := lg.Topics[1].Hex()
	questionID := lg.Topics[3].Hex()
	md := domain.MarketDescriptor{
		Venue:     venueName,
		ID:        questionID,
		Title:     "condition " + conditionID,
		RulesText: fmt.Sprintf("oracle %s, %s outcome slots", common.BytesToAddress(lg.Topics[2].Bytes()).Hex(), slotString(slots)),
		Status:    domain.MarketStatusActive,
		UpdatedAt: seenAt,
	}
	return venue.ChainEvent{Kind: venue.ChainMarketCreated, Market: md}, true, nil
}

func (d *Decoder) decodeResolution(venueName string, lg types.Log) (venue.ChainEvent, bool, error) {
	if len(lg.Topics) != 4 {
		return venue.ChainEvent{}, false, fmt.Errorf("ctf: ConditionResolution with %d topics", len(lg.Topics))
	}
	return venue.ChainEvent{
		Kind: venue.ChainMarketResolved,
		Ref:  domain.MarketRef{Venue: venueName, MarketID: lg.Topics[3].Hex()},
	}, true, nil
}

func slotString(n *big.Int) string {
	if n == nil {
		return "?"
	}
	return n.String()
}
