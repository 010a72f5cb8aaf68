package v201

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/pkg/config"
)

// Subprotocol is the only websocket subprotocol the server speaks.
const Subprotocol = "ocpp2.0.1"

// SecurityConfig holds the handshake checks applied to every connection.
type SecurityConfig struct {
	// AllowedOrigins only matters for browser clients; charge points send no Origin.
	AllowedOrigins []string

	// AllowedChargePointIDs restricts identities; empty means any identity may connect.
	AllowedChargePointIDs []string

	RequireSubprotocol bool

	// BasicAuth enables security profile 1. Credentials maps identity to a bcrypt hash.
	BasicAuth   bool
	Credentials map[string]string

	// Connection attempts per second and burst, per client IP. Zero disables the limiter.
	ConnectRatePerSecond float64
	ConnectBurst         int

	TLSCertFile string
	TLSKeyFile  string
}

// SecurityConfigFrom builds the handshake policy from application config.
func SecurityConfigFrom(c config.OCPPSecurity, allowedOrigins []string) SecurityConfig {
	return SecurityConfig{
		AllowedOrigins:        allowedOrigins,
		AllowedChargePointIDs: c.AllowedChargePointIDs,
		RequireSubprotocol:    c.RequireSubprotocol,
		BasicAuth:             c.BasicAuth,
		Credentials:           c.Credentials,
		ConnectRatePerSecond:  c.ConnectRatePerSecond,
		ConnectBurst:          c.ConnectBurst,
		TLSCertFile:           c.TLSCert,
		TLSKeyFile:            c.TLSKey,
	}
}

// HandshakeError carries the HTTP status a rejected handshake is answered with.
type HandshakeError struct {
	Status int
	Reason string
}

func (e *HandshakeError) Error() string { return e.Reason }

func (e *HandshakeError) Unwrap() error { return domain.ErrSecurityViolation }

// SecurityManager handles OCPP handshake security
type SecurityManager struct {
	config              SecurityConfig
	log                 *zap.Logger
	allowedOrigins      map[string]bool
	allowedChargePoints map[string]bool
	limiters            map[string]*rate.Limiter
	mu                  sync.RWMutex
}

func NewSecurityManager(cfg SecurityConfig, log *zap.Logger) *SecurityManager {
	sm := &SecurityManager{
		config:              cfg,
		log:                 log,
		allowedOrigins:      make(map[string]bool),
		allowedChargePoints: make(map[string]bool),
		limiters:            make(map[string]*rate.Limiter),
	}
	for _, origin := range cfg.AllowedOrigins {
		sm.allowedOrigins[strings.ToLower(origin)] = true
	}
	for _, cpID := range cfg.AllowedChargePointIDs {
		sm.allowedChargePoints[cpID] = true
	}
	return sm
}

// Admit runs every handshake check in order and reports the first failure.
func (sm *SecurityManager) Admit(chargePointID string, r *http.Request) error {
	if !sm.AllowConnect(r) {
		return &HandshakeError{Status: http.StatusTooManyRequests, Reason: "too many connection attempts"}
	}
	if !sm.ValidateSubprotocol(r) {
		return &HandshakeError{Status: http.StatusBadRequest, Reason: "subprotocol " + Subprotocol + " required"}
	}
	if err := sm.ValidateChargePoint(chargePointID, r); err != nil {
		return &HandshakeError{Status: http.StatusForbidden, Reason: err.Error()}
	}
	if err := sm.Authenticate(chargePointID, r); err != nil {
		return &HandshakeError{Status: http.StatusUnauthorized, Reason: err.Error()}
	}
	return nil
}

// CheckOrigin validates the WebSocket origin header
func (sm *SecurityManager) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Charge points are not browsers.
		return true
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if sm.allowedOrigins["*"] {
		return true
	}

	originLower := strings.ToLower(origin)
	originHost := originLower
	if idx := strings.Index(originLower, "://"); idx != -1 {
		originHost = originLower[idx+3:]
	}
	if sm.allowedOrigins[originLower] || sm.allowedOrigins[originHost] {
		return true
	}
	for allowed := range sm.allowedOrigins {
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(originHost, allowed[1:]) {
			return true
		}
	}

	sm.log.Warn("Origin rejected",
		zap.String("origin", origin),
		zap.String("remote_addr", r.RemoteAddr),
	)
	return false
}

// ValidateChargePoint validates if a charge point ID is allowed to connect
func (sm *SecurityManager) ValidateChargePoint(chargePointID string, r *http.Request) error {
	sm.mu.RLock()
	open := len(sm.allowedChargePoints) == 0
	allowed := sm.allowedChargePoints[chargePointID]
	sm.mu.RUnlock()

	if open || allowed {
		return nil
	}
	sm.log.Warn("Charge point rejected: not in allowed list",
		zap.String("charge_point_id", chargePointID),
		zap.String("remote_addr", r.RemoteAddr),
	)
	return fmt.Errorf("charge point not authorized: %s", chargePointID)
}

// ValidateSubprotocol checks the client offered ocpp2.0.1.
func (sm *SecurityManager) ValidateSubprotocol(r *http.Request) bool {
	if !sm.config.RequireSubprotocol {
		return true
	}
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	for _, proto := range strings.Split(protocols, ",") {
		if strings.TrimSpace(proto) == Subprotocol {
			return true
		}
	}
	sm.log.Warn("Subprotocol validation failed",
		zap.String("protocols", protocols),
		zap.String("remote_addr", r.RemoteAddr),
	)
	return false
}

// Authenticate checks HTTP basic credentials (security profile 1). The user
// name must be the charge point identity.
func (sm *SecurityManager) Authenticate(chargePointID string, r *http.Request) error {
	if !sm.config.BasicAuth {
		return nil
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return fmt.Errorf("basic credentials required")
	}
	if user != chargePointID {
		return fmt.Errorf("credentials do not match identity %s", chargePointID)
	}

	hash, found := sm.config.Credentials[chargePointID]
	if !found {
		// Viper lowercases map keys read from files.
		hash, found = sm.config.Credentials[strings.ToLower(chargePointID)]
	}
	if !found || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
		sm.log.Warn("Basic auth failed",
			zap.String("charge_point_id", chargePointID),
			zap.String("remote_addr", r.RemoteAddr),
		)
		return fmt.Errorf("invalid credentials for %s", chargePointID)
	}
	return nil
}

// AllowConnect applies the per-IP connection attempt limiter.
func (sm *SecurityManager) AllowConnect(r *http.Request) bool {
	if sm.config.ConnectRatePerSecond <= 0 {
		return true
	}
	ip := getClientIP(r)

	sm.mu.Lock()
	lim, ok := sm.limiters[ip]
	if !ok {
		burst := sm.config.ConnectBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(sm.config.ConnectRatePerSecond), burst)
		sm.limiters[ip] = lim
	}
	sm.mu.Unlock()

	if !lim.Allow() {
		sm.log.Warn("Connection rate exceeded", zap.String("ip", ip))
		return false
	}
	return true
}

// AddAllowedChargePoint dynamically adds a charge point to the allowed list
func (sm *SecurityManager) AddAllowedChargePoint(chargePointID string) {
	sm.mu.Lock()
	sm.allowedChargePoints[chargePointID] = true
	sm.mu.Unlock()

	sm.log.Info("Added allowed charge point", zap.String("charge_point_id", chargePointID))
}

// RemoveAllowedChargePoint removes a charge point from the allowed list
func (sm *SecurityManager) RemoveAllowedChargePoint(chargePointID string) {
	sm.mu.Lock()
	delete(sm.allowedChargePoints, chargePointID)
	sm.mu.Unlock()

	sm.log.Info("Removed allowed charge point", zap.String("charge_point_id", chargePointID))
}

// TLSConfig returns nil when no certificate is configured.
func (sm *SecurityManager) TLSConfig() (*tls.Config, error) {
	if sm.config.TLSCertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(sm.config.TLSCertFile, sm.config.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
