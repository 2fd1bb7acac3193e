package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

type recordingSender struct {
	name   string
	fail   error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.fail
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyOutcomeFiltersByEvent(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"fill", " exhausted "}, discard())
	ctx := context.Background()

	require.NoError(t, n.NotifyOutcome(ctx, domain.ExecutionOutcome{
		Kind: domain.RequestBuy, MarketSlug: "will-it-rain", Status: domain.StatusFilled,
		FilledQuantity: 10, FilledCost: 5, BalanceBefore: 100, BalanceAfter: 95,
	}))
	require.NoError(t, n.NotifyOutcome(ctx, domain.ExecutionOutcome{Kind: domain.RequestSell, Status: domain.StatusAbortedFunds}))
	require.NoError(t, n.NotifyOutcome(ctx, domain.ExecutionOutcome{Kind: domain.RequestSell, Status: domain.StatusExhausted, Retries: 3}))

	require.Len(t, s.titles, 2)
	assert.Equal(t, "BUY will-it-rain: filled", s.titles[0])
	assert.Contains(t, s.bodies[0], "avg 0.5000")
	assert.Contains(t, s.bodies[0], "$100.00 -> $95.00")
	assert.Contains(t, s.bodies[1], "retries: 3")
}

func TestOutcomeEvent(t *testing.T) {
	cases := map[domain.ActivityStatus]string{
		domain.StatusFilled:             EventFill,
		domain.StatusPartial:            EventPartial,
		domain.StatusExhausted:          EventExhausted,
		domain.StatusRiskRejected:       EventRiskRejected,
		domain.StatusBelowMinimum:       EventSkipped,
		domain.StatusAbortedNoLiquidity: EventAbort,
		domain.StatusAbortedSlippage:    EventAbort,
	}
	for status, want := range cases {
		assert.Equal(t, want, OutcomeEvent(domain.ExecutionOutcome{Status: status}), status)
	}
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", fail: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestSendersPostJSON(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "**Title**\nbody", got["content"])
}

func TestSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
