// Package httpapi serves the read-only ledger query API.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
	"github.com/R3E-Network/spendsave/internal/httputil"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/internal/strategy"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Deps are the components the API reads from.
type Deps struct {
	Kernel     *kernel.Kernel
	Strategies *strategy.Module
	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
	// Limiter throttles /v1 per client. Nil disables it.
	Limiter *RateLimiter
	Logger  *logger.Logger
}

type handler struct {
	k          *kernel.Kernel
	strategies *strategy.Module
}

// NewHandler returns the API router with request metrics and logging.
func NewHandler(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{k: d.Kernel, strategies: d.Strategies}

	r := mux.NewRouter()
	r.Use(RequestIDMiddleware, LoggingMiddleware(log), MetricsMiddleware(d.Kernel.Metrics()))

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	if d.Limiter != nil {
		v1.Use(d.Limiter.Middleware)
	}
	v1.HandleFunc("/status", h.status).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{capability}", h.module).Methods(http.MethodGet)
	v1.HandleFunc("/assets/id/{id}", h.assetByID).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{address}", h.assetByAddress).Methods(http.MethodGet)
	v1.HandleFunc("/balances/{owner}/{assetID}", h.balance).Methods(http.MethodGet)
	v1.HandleFunc("/supply/{assetID}", h.supply).Methods(http.MethodGet)
	v1.HandleFunc("/strategies/{user}", h.strategy).Methods(http.MethodGet)
	v1.HandleFunc("/conversions/{user}", h.conversions).Methods(http.MethodGet)
	v1.HandleFunc("/events", h.events).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, svcerrors.New(svcerrors.ErrNotFound, "httpapi", "no such route"))
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	treasury, fee := h.k.Treasury(ctx)
	httputil.WriteJSON(w, http.StatusOK, statusDTO{
		Owner:          identity.String(h.k.Owner(ctx)),
		Treasury:       identity.String(treasury),
		TreasuryFeeBps: fee,
		Assets:         h.k.AssetCount(ctx),
		QueueDepth:     h.k.QueueDepth(ctx),
	})
}

// module resolves a capability given by name or by its 0x-prefixed key.
func (h *handler) module(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["capability"]
	c, ok := kernel.ParseCapability(raw)
	if !ok {
		httputil.WriteError(w, svcerrors.New(svcerrors.ErrInvalidInput, "httpapi.module", "unknown capability "+raw))
		return
	}
	m, err := h.k.ModuleFor(r.Context(), c)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, moduleDTO{
		Capability: c.String(),
		Key:        c.Hex(),
		Name:       m.Name(),
		Address:    identity.String(m.Address()),
	})
}

func (h *handler) assetByAddress(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAddress(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id := h.k.AssetIDOf(r.Context(), asset)
	if id == 0 {
		httputil.WriteError(w, svcerrors.New(svcerrors.ErrAssetNotRegistered, "httpapi.asset", identity.String(asset)))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newAssetDTO(id, asset))
}

func (h *handler) assetByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathAssetID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	asset, err := h.k.AddressOfAsset(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newAssetDTO(id, asset))
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := h.registeredID(r, "assetID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceDTO{
		Owner:   identity.String(owner),
		AssetID: id,
		Balance: h.k.BalanceOf(r.Context(), owner, id).Dec(),
	})
}

func (h *handler) supply(w http.ResponseWriter, r *http.Request) {
	id, err := h.registeredID(r, "assetID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, supplyDTO{
		AssetID: id,
		Total:   h.k.TotalSupply(r.Context(), id).Dec(),
	})
}

func (h *handler) strategy(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r, "user")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.strategies.Strategy(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newStrategyDTO(user, view))
}

func (h *handler) conversions(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r, "user")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pending := h.k.PendingConversions(r.Context(), user)
	out := make([]conversionDTO, 0, len(pending))
	for _, c := range pending {
		out = append(out, newConversionDTO(c))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// events serves the recent event window, newest first. Filters: type,
// subject and limit.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, svcerrors.Newf(svcerrors.ErrInvalidInput, "httpapi.events", "limit %q", raw))
			return
		}
		limit = min(n, maxEventLimit)
	}

	log := h.k.Events()
	var out []events.Event
	switch {
	case q.Get("type") != "":
		out = log.RecentByType(events.EventType(q.Get("type")), limit)
	case q.Get("subject") != "":
		out = log.RecentBySubject(q.Get("subject"), limit)
	default:
		out = log.Recent(limit)
	}
	if out == nil {
		out = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// registeredID parses an asset id path variable and checks it is registered.
func (h *handler) registeredID(r *http.Request, name string) (uint64, error) {
	id, err := pathAssetID(r, name)
	if err != nil {
		return 0, err
	}
	if _, err := h.k.AddressOfAsset(r.Context(), id); err != nil {
		return 0, err
	}
	return id, nil
}

func pathAddress(r *http.Request, name string) (util.Uint160, error) {
	u, err := identity.Parse(mux.Vars(r)[name])
	if err != nil {
		return util.Uint160{}, svcerrors.New(svcerrors.ErrInvalidInput, "httpapi."+name, err.Error())
	}
	return u, nil
}

func pathAssetID(r *http.Request, name string) (uint64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, svcerrors.Newf(svcerrors.ErrInvalidInput, "httpapi."+name, "asset id %q", raw)
	}
	return id, nil
}
