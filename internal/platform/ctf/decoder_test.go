package ctf

import (
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/venue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seenAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder("")
	require.NoError(t, err)
	return d
}

func pack(t *testing.T, d *Decoder, event string, args ...any) []byte {
	t.Helper()
	data, err := d.abi.Events[event].Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return data
}

func TestFilterQuery(t *testing.T) {
	d := newDecoder(t)
	q := d.FilterQuery()
	assert.Equal(t, []common.Address{common.HexToAddress(DefaultContract)}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Len(t, q.Topics[0], 3)

	_, err := NewDecoder("not-an-address")
	assert.Error(t, err)
}

func TestDecode_TransferSingle(t *testing.T) {
	d := newDecoder(t)
	tokenID, _ := new(big.Int).SetString("71321045679252212594626385532706912750332728571942532289631379312455583992563", 10)
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx := common.HexToHash("0xabc123")

	lg := types.Log{
		Topics: []common.Hash{
			d.transferSingle,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:   pack(t, d, "TransferSingle", tokenID, big.NewInt(2_500_000)),
		TxHash: tx,
		Index:  7,
	}

	ev, ok, err := d.Decode("ctf", lg, seenAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, venue.ChainTrade, ev.Kind)
	assert.Equal(t, tokenID.String(), ev.Trade.MarketID)
	assert.Equal(t, 2.5, ev.Trade.Size)
	assert.Equal(t, "transfer", ev.Trade.Side)
	assert.Equal(t, tx.Hex()+":7", ev.Trade.TradeID)
	assert.Equal(t, seenAt, ev.Trade.ExecutedAt)

	lg.Topics[2] = common.Hash{}
	ev, _, err = d.Decode("ctf", lg, seenAt)
	require.NoError(t, err)
	assert.Equal(t, "mint", ev.Trade.Side)
}

func TestDecode_ConditionLifecycle(t *testing.T) {
	d := newDecoder(t)
	condition := common.HexToHash("0xc0")
	oracle := common.HexToAddress("0x3333333333333333333333333333333333333333")
	question := common.HexToHash("0x9e")

	prep := types.Log{
		Topics: []common.Hash{d.preparation, condition, common.BytesToHash(oracle.Bytes()), question},
		Data:   pack(t, d, "ConditionPreparation", big.NewInt(2)),
	}
	ev, ok, err := d.Decode("ctf", prep, seenAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, venue.ChainMarketCreated, ev.Kind)
	assert.Equal(t, question.Hex(), ev.Market.ID)
	assert.Equal(t, domain.MarketStatusActive, ev.Market.Status)
	assert.Nil(t, ev.Market.ResolutionDate)
	assert.Contains(t, ev.Market.RulesText, "2 outcome slots")

	res := types.Log{
		Topics: []common.Hash{d.resolution, condition, common.BytesToHash(oracle.Bytes()), question},
		Data:   pack(t, d, "ConditionResolution", big.NewInt(2), []*big.Int{big.NewInt(1), big.NewInt(0)}),
	}
	ev, ok, err = d.Decode("ctf", res, seenAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, venue.ChainMarketResolved, ev.Kind)
	assert.Equal(t, domain.MarketRef{Venue: "ctf", MarketID: question.Hex()}, ev.Ref)
}

func TestDecode_IgnoresAndRejects(t *testing.T) {
	d := newDecoder(t)

	_, ok, err := d.Decode("ctf", types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}, seenAt)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.Decode("ctf", types.Log{Topics: []common.Hash{d.transferSingle}, Removed: true}, seenAt)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = d.Decode("ctf", types.Log{Topics: []common.Hash{d.transferSingle}}, seenAt)
	assert.Error(t, err)

	_, _, err = d.Decode("ctf", types.Log{
		Topics: []common.Hash{d.transferSingle, {}, {}, {}},
		Data:   []byte{0x01},
	}, seenAt)
	assert.Error(t, err)
}
