package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClob(t *testing.T, h http.HandlerFunc) *ClobClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	return NewClobClient(srv.URL, signer, &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"})
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want domain.ErrorKind
	}{
		{"not enough balance / allowance", domain.ErrorKindFunds},
		{"invalid amount for a marketable BUY order ($0.999), max accuracy of 2 decimals", domain.ErrorKindPrecision},
		{"Size (2.1) lower than the minimum: 5", domain.ErrorKindSize},
		{"invalid amount for a marketable BUY order ($0.5), min size: $1", domain.ErrorKindSize},
		{"Too Many Requests", domain.ErrorKindRateLimit},
		{"read tcp: connection reset by peer", domain.ErrorKindNetwork},
		{"request timed out", domain.ErrorKindNetwork},
		{"order couldn't be fully filled. FOK orders are fully filled or killed.", domain.ErrorKindUnknown},
		{"", domain.ErrorKindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMessage(tt.msg), tt.msg)
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, domain.ErrorKindRateLimit, ClassifyError(checkHTTPStatus(http.StatusTooManyRequests, nil)))
	assert.Equal(t, domain.ErrorKindNetwork, ClassifyError(checkHTTPStatus(http.StatusBadGateway, nil)))
	assert.Equal(t, domain.ErrorKindFunds, ClassifyError(checkHTTPStatus(http.StatusBadRequest, []byte(`{"error":"not enough balance"}`))))
	assert.Equal(t, domain.ErrorKindNetwork, ClassifyError(errors.New("dial tcp: i/o timeout")))
	assert.Equal(t, domain.ErrorKindNone, ClassifyError(nil))
}

func TestGetOrderBook(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token_id"))
		w.Write([]byte(`{"asset_id":"tok","bids":[{"price":"0.48","size":"10"},{"price":"0.52","size":"3.5"},{"price":"bad","size":"1"}],"asks":[{"price":"0.60","size":"7"},{"price":"0.55","size":"2"}],"timestamp":"1700000000000"}`))
	})

	book, err := c.GetOrderBook(context.Background(), "tok")
	require.NoError(t, err)
	assert.Len(t, book.Bids, 2)
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, domain.PriceLevel{Price: 0.52, Size: 3.5}, bid)
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 0.55, ask.Price)
}

func TestPostOrderRejectionIsAResult(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		var req PostOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "FOK", req.OrderType)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMsg":"not enough balance / allowance"}`))
	})

	res, err := c.PostOrder(context.Background(), PostOrderRequest{OrderType: "FOK"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "not enough balance / allowance", res.Message())
}

func TestPostOrderServerErrorIsAnError(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.PostOrder(context.Background(), PostOrderRequest{OrderType: "GTC"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindNetwork, ClassifyError(err))
}

func TestGetCollateralBalance(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		w.Write([]byte(`{"balance":"12345678","allowance":"0"}`))
	})

	bal, err := c.GetCollateralBalance(context.Background(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 12.345678, bal, 1e-9)
}

func TestDataClientPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		assert.Equal(t, "0xwallet", r.URL.Query().Get("user"))
		w.Write([]byte(`[{"asset":"a1","conditionId":"c1","size":12.5,"avgPrice":0.4,"currentValue":6.25,"curPrice":0.5}]`))
	}))
	defer srv.Close()

	pos, err := NewDataClient(srv.URL).Positions(context.Background(), "0xwallet", "")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "0xwallet", pos[0].Wallet)
	assert.Equal(t, 12.5, pos[0].Size)
	assert.Equal(t, "c1", pos[0].ConditionID)
}

func TestDataClientActivity(t *testing.T) {
	since := time.Unix(1700000000, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activity", r.URL.Path)
		assert.Equal(t, "0xTrader", r.URL.Query().Get("user"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("start"))
		assert.Equal(t, "ASC", r.URL.Query().Get("sortDirection"))
		w.Write([]byte(`[
			{"proxyWallet":"0xtrader","timestamp":1700000100,"conditionId":"c1","type":"TRADE","size":20,"usdcSize":10,"transactionHash":"0xabc","price":0.5,"asset":"yes","side":"BUY","slug":"m","outcome":"Yes"},
			{"proxyWallet":"0xtrader","timestamp":1700000200,"conditionId":"c1","type":"REDEEM","size":5,"transactionHash":"0xdef","asset":"yes"},
			{"proxyWallet":"0xtrader","timestamp":1700000300,"conditionId":"c1","type":"MERGE","size":4,"usdcSize":4,"transactionHash":"0x123","asset":"","side":""}
		]`))
	}))
	defer srv.Close()

	events, n, err := NewDataClient(srv.URL).Activity(context.Background(), "0xTrader", since, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, events, 2)

	assert.Equal(t, "0xabc-yes-BUY", events[0].ID)
	assert.Equal(t, "0xTrader", events[0].TraderAddress)
	assert.Equal(t, domain.ActivityTrade, events[0].Type)
	assert.Equal(t, domain.SideBuy, events[0].Side)
	assert.True(t, events[0].Timestamp.Equal(time.Unix(1700000100, 0)))

	assert.Equal(t, domain.ActivityMerge, events[1].Type)
	assert.Equal(t, "0x123-c1-MERGE", events[1].ID)
}
