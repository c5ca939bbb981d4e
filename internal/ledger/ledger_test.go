package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTuple encodes a 14-word campaign tuple the way eth_call returns it.
func buildTuple(words ...*big.Int) string {
	var sb strings.Builder
	sb.WriteString("0x")
	for _, w := range words {
		b := make([]byte, 32)
		w.FillBytes(b)
		sb.WriteString(hex.EncodeToString(b))
	}
	return sb.String()
}

func campaignTuple(currentAmount, status int64) string {
	words := make([]*big.Int, 14)
	for i := range words {
		words[i] = big.NewInt(int64(i + 1))
	}
	words[4] = big.NewInt(currentAmount)
	words[11] = big.NewInt(status)
	return buildTuple(words...)
}

func TestGetCampaign_DecodesTuple(t *testing.T) {
	const contract = "0x00000000000000000000000000000000000000aa"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_call", req.Method)

		call := req.Params[0].(map[string]interface{})
		assert.Equal(t, contract, call["to"])
		data := call["data"].(string)
		// 4-byte selector plus one uint256 argument
		assert.Len(t, data, 2+8+64)
		assert.True(t, strings.HasSuffix(data, "2a"), "campaign id 42 encoded in call data")

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			// currentAmount 150000000000 at 6 implied decimals = 150000 IDR
			"result": campaignTuple(150000000000, 3),
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewClient(server.URL, contract)
	campaign, err := client.GetCampaign(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(150000000000), campaign.CurrentAmount.Int64())
	assert.Equal(t, StatusLoanActive, campaign.Status)
	assert.Equal(t, int64(1), campaign.SrgTokenID.Int64())
	assert.Equal(t, int64(4), campaign.TargetAmount.Int64())
	assert.Equal(t, "150000", campaign.CurrentAmountIDR().String())
}

func TestGetCampaign_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "0xabc")
	_, err := client.GetCampaign(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestGetCampaign_ShortTuple(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1234"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "0xabc")
	_, err := client.GetCampaign(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short campaign tuple")
}

func TestCurrentAmountIDR_FractionalAmount(t *testing.T) {
	campaign := &Campaign{CurrentAmount: big.NewInt(1234567)}
	assert.Equal(t, "1.234567", campaign.CurrentAmountIDR().String())
}
