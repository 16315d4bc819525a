package session

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/perpdesk/internal/database"
	"github.com/web3guy0/perpdesk/internal/resolver"
	"github.com/web3guy0/perpdesk/internal/route"
	"github.com/web3guy0/perpdesk/internal/store"
	"github.com/web3guy0/perpdesk/types"
)

const defaultMarket = "ETH-USD"

// recorder collects the calls every collaborator receives, in order
type recorder struct {
	calls []string
}

func (r *recorder) add(s string) { r.calls = append(r.calls, s) }

func (r *recorder) reset() { r.calls = nil }

type fakeKV struct {
	rec    *recorder
	values map[string]string
	setErr error
}

func (f *fakeKV) Get(key, defaultValue string) (string, error) {
	if v, ok := f.values[key]; ok {
		return v, nil
	}
	return defaultValue, nil
}

func (f *fakeKV) Set(key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.rec.add("persist:" + value)
	f.values[key] = value
	return nil
}

type recordingStore struct {
	*store.Store
	rec *recorder
}

func (s *recordingStore) Dispatch(a store.Action) {
	s.rec.add("store:" + a.Name())
	s.Store.Dispatch(a)
}

type recordingRouter struct {
	*route.Router
	rec *recorder
}

func (r *recordingRouter) Navigate(path string, opts route.NavigateOptions) {
	if opts.Replace {
		r.rec.add("replace:" + path)
	} else {
		r.rec.add("push:" + path)
	}
	r.Router.Navigate(path, opts)
}

type fakeSubscriber struct {
	rec *recorder
}

func (f *fakeSubscriber) SetMarket(id string) { f.rec.add("prime:" + id) }

type harness struct {
	rec     *recorder
	kv      *fakeKV
	store   *store.Store
	router  *route.Router
	session *Session
}

func newHarness(location string) *harness {
	rec := &recorder{}
	st := store.New("mainnet")
	r := route.NewRouter(location)
	kv := &fakeKV{rec: rec, values: map[string]string{}}

	s := New(resolver.New(defaultMarket), kv,
		&recordingStore{Store: st, rec: rec},
		&recordingRouter{Router: r, rec: rec},
		&fakeSubscriber{rec: rec})

	return &harness{rec: rec, kv: kv, store: st, router: r, session: s}
}

func (h *harness) loadMarkets(ids ...string) {
	markets := make([]types.Market, 0, len(ids))
	for _, id := range ids {
		markets = append(markets, types.Market{ID: id, Status: types.MarketStatusActive})
	}
	h.store.Dispatch(store.SetMarkets{Markets: markets})
}

const (
	setCurrent  = "store:perpetuals/setCurrentMarketId"
	closeDialog = "store:dialogs/closeDialogInTradeBox"
)

func TestSession_StartBeforeMarketsRedirectsToPersisted(t *testing.T) {
	h := newHarness("/trade")
	h.kv.values[database.LastViewedMarket] = "SOL-USD"

	require.NoError(t, h.session.Start())

	assert.Equal(t, []string{
		"persist:SOL-USD", setCurrent, closeDialog, "replace:/trade/SOL-USD",
		// redirect processed after the first cycle finished
		"persist:SOL-USD", setCurrent, closeDialog,
	}, h.rec.calls)
	assert.Equal(t, "/trade/SOL-USD", h.router.Location())
	assert.Equal(t, "SOL-USD", h.store.State().CurrentMarketID)
	assert.Equal(t, 1, h.router.Depth())
}

func TestSession_PrimingWaitsForDefinedMarkets(t *testing.T) {
	h := newHarness("/trade/BTC-USD")
	require.NoError(t, h.session.Start())
	assert.NotContains(t, h.rec.calls, "prime:BTC-USD")

	h.rec.reset()
	h.store.Dispatch(store.SetMarkets{})

	// defined but empty: no new reconciliation, only the priming call
	assert.Equal(t, []string{"prime:BTC-USD"}, h.rec.calls)

	h.rec.reset()
	h.loadMarkets("BTC-USD", "ETH-USD")

	assert.Equal(t, []string{"persist:BTC-USD", setCurrent, closeDialog, "prime:BTC-USD"}, h.rec.calls)
}

func TestSession_EmptyDefinedSetPrimesBeforeRedirectCycle(t *testing.T) {
	h := newHarness("/trade")
	h.store.Dispatch(store.SetMarkets{})

	require.NoError(t, h.session.Start())

	assert.Equal(t, []string{
		"persist:ETH-USD", setCurrent, closeDialog, "replace:/trade/ETH-USD",
		"prime:ETH-USD",
		"persist:ETH-USD", setCurrent, closeDialog,
		"prime:ETH-USD",
	}, h.rec.calls)
}

func TestSession_InvalidRouteLeavesForListing(t *testing.T) {
	h := newHarness("/trade/ETH-USD")
	h.loadMarkets("ETH-USD", "SOL-USD")
	require.NoError(t, h.session.Start())

	h.rec.reset()
	h.kv.values[database.LastViewedMarket] = "ETH-USD"
	h.router.Navigate(route.TradePath("DOGE-USD"), route.NavigateOptions{})

	assert.Equal(t, []string{"replace:/markets", "prime:DOGE-USD"}, h.rec.calls)
	assert.Equal(t, route.Markets, h.router.Location())
	assert.Equal(t, "ETH-USD", h.kv.values[database.LastViewedMarket])
	assert.Equal(t, "ETH-USD", h.store.State().CurrentMarketID)
}

func TestSession_MarketsArrivingInvalidateRoute(t *testing.T) {
	h := newHarness("/trade/DOGE-USD")
	require.NoError(t, h.session.Start())
	// passthrough while nothing is known
	assert.Equal(t, "DOGE-USD", h.store.State().CurrentMarketID)

	h.rec.reset()
	h.loadMarkets("ETH-USD", "SOL-USD")

	assert.Equal(t, []string{"replace:/markets", "prime:DOGE-USD"}, h.rec.calls)
	assert.Equal(t, route.Markets, h.router.Location())
}

func TestSession_NetworkChangeOnlyPrimes(t *testing.T) {
	h := newHarness("/trade/BTC-USD")
	h.loadMarkets("BTC-USD", "ETH-USD")
	require.NoError(t, h.session.Start())

	h.rec.reset()
	h.store.Dispatch(store.SetSelectedNetwork{Network: "testnet"})

	assert.Equal(t, []string{"prime:BTC-USD"}, h.rec.calls)
}

func TestSession_PriceUpdatesDoNotTrigger(t *testing.T) {
	h := newHarness("/trade/BTC-USD")
	h.loadMarkets("BTC-USD", "ETH-USD")
	require.NoError(t, h.session.Start())

	h.rec.reset()
	status := types.MarketStatusActive
	h.store.Dispatch(store.UpdateMarkets{Updates: []store.MarketUpdate{{ID: "SOL-USD", Status: &status}}})
	h.store.Dispatch(store.SetOpenPositions{Positions: []types.Position{{ID: "BTC-USD"}}})

	assert.Empty(t, h.rec.calls)
}

func TestSession_StaleUpdateAfterResetKeepsRoute(t *testing.T) {
	h := newHarness("/trade/ETH-USD")
	h.loadMarkets("BTC-USD", "ETH-USD")
	require.NoError(t, h.session.Start())

	h.store.Dispatch(store.ResetMarkets{})
	assert.Equal(t, "/trade/ETH-USD", h.router.Location())

	// a late frame from the previous connection
	h.rec.reset()
	price := decimal.RequireFromString("64000")
	h.store.Dispatch(store.UpdateMarkets{Updates: []store.MarketUpdate{{ID: "BTC-USD", OraclePrice: &price}}})

	assert.Empty(t, h.rec.calls)
	assert.Equal(t, "/trade/ETH-USD", h.router.Location())
	assert.Equal(t, "ETH-USD", h.store.State().CurrentMarketID)

	h.loadMarkets("BTC-USD", "ETH-USD")
	assert.Equal(t, []string{"persist:ETH-USD", setCurrent, closeDialog, "prime:ETH-USD"}, h.rec.calls)
}

func TestSession_ClosePositionDialogRetention(t *testing.T) {
	h := newHarness("/trade/ETH-USD")
	h.loadMarkets("BTC-USD", "ETH-USD", "SOL-USD")
	require.NoError(t, h.session.Start())

	h.store.Dispatch(store.OpenDialogInTradeBox{Dialog: types.Dialog{Type: types.DialogClosePosition}})
	h.store.Dispatch(store.SetOpenPositions{Positions: []types.Position{{ID: "BTC-USD"}}})

	h.rec.reset()
	h.router.Navigate(route.TradePath("BTC-USD"), route.NavigateOptions{})
	assert.NotContains(t, h.rec.calls, closeDialog)
	assert.NotNil(t, h.store.State().ActiveTradeBoxDialog())

	h.store.Dispatch(store.SetOpenPositions{})
	h.rec.reset()
	h.router.Navigate(route.TradePath("SOL-USD"), route.NavigateOptions{})
	assert.Contains(t, h.rec.calls, closeDialog)
	assert.Nil(t, h.store.State().ActiveTradeBoxDialog())
}

func TestSession_RapidNavigationEachCyclePersists(t *testing.T) {
	h := newHarness("/trade/BTC-USD")
	h.loadMarkets("BTC-USD", "ETH-USD", "SOL-USD")
	require.NoError(t, h.session.Start())

	for _, id := range []string{"ETH-USD", "SOL-USD", "BTC-USD"} {
		h.router.Navigate(route.TradePath(id), route.NavigateOptions{})
		assert.Equal(t, id, h.kv.values[database.LastViewedMarket])
		assert.Equal(t, id, h.store.State().CurrentMarketID)
	}
}

func TestSession_RemountRunsFullCycle(t *testing.T) {
	h := newHarness("/trade/BTC-USD")
	h.loadMarkets("BTC-USD", "ETH-USD")
	require.NoError(t, h.session.Start())

	h.router.Navigate(route.Markets, route.NavigateOptions{})
	h.rec.reset()
	h.router.Back()

	assert.Equal(t, []string{"persist:BTC-USD", setCurrent, closeDialog, "prime:BTC-USD"}, h.rec.calls)
}

func TestSession_PersistFailureAbortsCycle(t *testing.T) {
	h := newHarness("/trade/BTC-USD")
	h.loadMarkets("BTC-USD", "ETH-USD")
	h.kv.setErr = errors.New("disk full")

	err := h.session.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, h.kv.setErr)

	// nothing after the failed write, priming still happens
	assert.Equal(t, []string{"prime:BTC-USD"}, h.rec.calls)
	assert.Empty(t, h.store.State().CurrentMarketID)
}

func TestSession_StopIgnoresEvents(t *testing.T) {
	h := newHarness("/trade/BTC-USD")
	h.loadMarkets("BTC-USD", "ETH-USD")
	require.NoError(t, h.session.Start())
	h.session.Stop()

	h.rec.reset()
	h.router.Navigate(route.TradePath("ETH-USD"), route.NavigateOptions{})
	h.store.Dispatch(store.SetSelectedNetwork{Network: "testnet"})

	assert.Empty(t, h.rec.calls)
}

type listenerCountingRouter struct {
	*route.Router
	active int
}

func (r *listenerCountingRouter) Listen(l route.Listener) func() {
	r.active++
	remove := r.Router.Listen(l)
	return func() {
		r.active--
		remove()
	}
}

func TestSession_StopRemovesRouterListener(t *testing.T) {
	st := store.New("mainnet")
	r := &listenerCountingRouter{Router: route.NewRouter("/trade/BTC-USD")}
	rec := &recorder{}
	s := New(resolver.New(defaultMarket), &fakeKV{rec: rec, values: map[string]string{}}, st, r, &fakeSubscriber{rec: rec})

	require.NoError(t, s.Start())
	assert.Equal(t, 1, r.active)

	s.Stop()
	assert.Equal(t, 0, r.active)
}
