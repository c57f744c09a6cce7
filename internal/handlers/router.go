package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// Routes builds the full middleware stack around the router.
func (h *Handler) Routes() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(h.NotFoundHandler)

	claims := NewIPLimiter(h.cfg.ClaimRateLimitPerMin, h.cfg.ClaimRateLimitBurst, h.clientIP)
	claim := claims.Middleware(http.HandlerFunc(h.ClaimHandler))

	router.HandleFunc("/", h.InfoHandler).Methods("GET")
	router.Handle("/", claim).Methods("POST")
	router.HandleFunc("/banano.json", h.DonationHandler).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/claim", claim).Methods("POST")
	api.HandleFunc("/stats", h.StatsHandler).Methods("GET")
	api.HandleFunc("/challenge", h.ChallengeHandler).Methods("GET")
	api.HandleFunc("/health", h.HealthHandler).Methods("GET")

	if h.cfg.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   h.cfg.APICORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	requests := h.cfg.APIRateLimitRequests
	if requests <= 0 {
		return c.Handler(router)
	}
	window := time.Duration(h.cfg.APIRateLimitWindowMins) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	limiter := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	return rateLimitMiddleware(limiter)(c.Handler(router))
}

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter applies a token bucket per client IP.
type IPLimiter struct {
	perSecond rate.Limit
	burst     int
	identify  func(*http.Request) string
	now       func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewIPLimiter(perMinute float64, burst int, identify func(*http.Request) string) *IPLimiter {
	perSecond := perMinute / 60
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &IPLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		identify:  identify,
		now:       time.Now,
		visitors:  make(map[string]*visitor),
	}
}

func (l *IPLimiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[id]
	if !ok {
		l.evict(now)
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// evict drops visitors idle for more than ten minutes. Caller holds mu.
func (l *IPLimiter) evict(now time.Time) {
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > 10*time.Minute {
			delete(l.visitors, id)
		}
	}
}

func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.identify(r)) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Too many claims, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller address. Proxy headers are only honored when
// the service is configured to sit behind a trusted proxy.
func (h *Handler) clientIP(r *http.Request) string {
	if h.cfg.TrustProxyHeaders {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); net.ParseIP(ip) != nil {
			return ip
		}

		forwarded := r.Header.Get("X-Forwarded-For")
		if forwarded != "" {
			ips := strings.Split(forwarded, ",")
			ip := strings.TrimSpace(ips[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}

		realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
		if net.ParseIP(realIP) != nil {
			return realIP
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
