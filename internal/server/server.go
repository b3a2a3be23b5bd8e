// Package server exposes the downstream HTTP and websocket surface of the
// gateway: snapshot endpoints, per-symbol streams, firehoses and the
// multiplexed candle endpoint.
package server

import (
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/registry"
)

// Config tunes the downstream surface.
type Config struct {
	// SupportedSymbols is the instrument universe advertised by the root
	// endpoint.
	SupportedSymbols []string
	// MaxSymbolsPerConnection caps active subscriptions on the multiplex
	// endpoint.
	MaxSymbolsPerConnection int
	// FirehoseMinValueUSD is the default notional filter on the firehose
	// endpoints when the client passes none.
	FirehoseMinValueUSD float64
	// Timeframes is the oi-vol timeframe universe.
	Timeframes []string
	// InitialSubscribeTimeout bounds the wait for the first multiplex
	// control frame.
	InitialSubscribeTimeout time.Duration
	// IdleTimeout bounds the wait between multiplex control frames after the
	// first subscription.
	IdleTimeout time.Duration
	// AllowedOrigins lists CORS origins; empty allows any.
	AllowedOrigins []string
}

func (c Config) normalize() Config {
	if c.MaxSymbolsPerConnection <= 0 {
		c.MaxSymbolsPerConnection = 10
	}
	if c.FirehoseMinValueUSD <= 0 {
		c.FirehoseMinValueUSD = 5_000
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = []string{"5m", "15m", "1h"}
	}
	if c.InitialSubscribeTimeout <= 0 {
		c.InitialSubscribeTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 300 * time.Second
	}
	return c
}

type server struct {
	cfg      Config
	registry *registry.Registry
	bus      eventbus.Bus
}

// NewHandler builds the full downstream route set.
func NewHandler(cfg Config, reg *registry.Registry, bus eventbus.Bus) http.Handler {
	s := &server{cfg: cfg.normalize(), registry: reg, bus: bus}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.getRoot)
	mux.HandleFunc("GET /exchanges", s.getExchanges)
	mux.HandleFunc("GET /health", s.getHealth)
	mux.HandleFunc("GET /ws-catalog", s.getWSCatalog)

	mux.HandleFunc("GET /multi/ohlc/{symbol}/{interval}", s.getMultiOHLC)

	mux.HandleFunc("GET /ws/all/liquidations", s.wsLiquidationFirehose)
	mux.HandleFunc("GET /ws/all/large_trades", s.wsLargeTradeFirehose)
	mux.HandleFunc("GET /ws/oi-vol", s.wsOIVolFirehose)
	mux.HandleFunc("GET /ws/binance/multi/ohlc", s.wsMultiplexOHLC)
	mux.HandleFunc("GET /ws/{exchange}/{symbol}/{stream}", s.wsSymbolStream)

	// The venue snapshot wildcards live on a fallback mux: ServeMux cannot
	// rank "GET /{exchange}/..." against "GET /ws/{exchange}/..." and panics
	// at registration when both share one mux. Every literal route above is
	// more specific than "/" and keeps precedence.
	snapshots := http.NewServeMux()
	snapshots.HandleFunc("GET /{exchange}/ohlc/{symbol}/{interval}", s.getOHLC)
	snapshots.HandleFunc("GET /{exchange}/oi/{symbol}", s.getOpenInterest)
	snapshots.HandleFunc("GET /{exchange}/oi-hist/{symbol}", s.getOpenInterestHist)
	snapshots.HandleFunc("GET /{exchange}/funding/{symbol}", s.getFunding)
	snapshots.HandleFunc("GET /{exchange}/funding-hist/{symbol}", s.getFundingHist)
	mux.Handle("/", snapshots)

	return withCORS(s.cfg.AllowedOrigins, mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

// writeVenueError maps the error envelope onto the snapshot status contract:
// 404 for unknown data, 503 for upstream trouble, 500 otherwise.
func writeVenueError(w http.ResponseWriter, err error) {
	switch errs.CodeOf(err) {
	case errs.CodeNotFound, errs.CodeInvalid:
		writeError(w, http.StatusNotFound, err.Error())
	case errs.CodeTransient:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func withCORS(origins []string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", corsOrigin(origins, r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func corsOrigin(allowed []string, origin string) string {
	if len(allowed) == 0 {
		return "*"
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return candidate
		}
	}
	return allowed[0]
}
