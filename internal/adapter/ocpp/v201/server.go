package v201

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
	"github.com/seu-repo/sigec-csms/pkg/config"
)

type Config struct {
	// Path is the URL prefix; the identity is the segment after it.
	Path              string
	HeartbeatInterval time.Duration
	HeartbeatGrace    float64
	CallTimeout       time.Duration
	InboxSize         int
	WriteTimeout      time.Duration
	ReadLimit         int64
}

func ConfigFrom(c config.OCPPConfig) Config {
	return Config{
		Path:              c.Path,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatGrace:    c.HeartbeatGrace,
		CallTimeout:       c.CallTimeout,
		InboxSize:         c.InboxSize,
		WriteTimeout:      c.WriteTimeout,
	}
}

func (c *Config) defaults() {
	if c.Path == "" {
		c.Path = "/ocpp/"
	}
	if !strings.HasSuffix(c.Path, "/") {
		c.Path += "/"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 300 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
}

// ProfileStore is the resolver plus the rollback hook used when a device
// refuses a profile.
type ProfileStore interface {
	ports.SmartChargingService
	Restore(chargePointID string, profileID int, previous *domain.ChargingProfile)
}

type Deps struct {
	Devices      ports.DeviceService
	Transactions ports.TransactionService
	Auth         ports.AuthorizationService
	Profiles     ProfileStore
	Security     *SecurityManager
}

// Server terminates charge point websockets and implements the outbound
// command boundary on top of the registry.
type Server struct {
	cfg      Config
	devices  ports.DeviceService
	txs      ports.TransactionService
	auth     ports.AuthorizationService
	profiles ProfileStore
	security *SecurityManager
	registry *Registry
	router   *Router
	codec    *Codec
	upgrader websocket.Upgrader
	http     *http.Server
	baseCtx  context.Context
	log      *zap.Logger
	now      func() time.Time

	remoteStartSeq atomic.Int64
}

var _ ports.CommandService = (*Server)(nil)

func NewServer(cfg Config, deps Deps, log *zap.Logger) (*Server, error) {
	cfg.defaults()
	if deps.Security == nil {
		deps.Security = NewSecurityManager(SecurityConfig{}, log)
	}
	s := &Server{
		cfg:      cfg,
		devices:  deps.Devices,
		txs:      deps.Transactions,
		auth:     deps.Auth,
		profiles: deps.Profiles,
		security: deps.Security,
		registry: NewRegistry(NewPresence(deps.Devices, deps.Transactions, log), RegistryConfig{HeartbeatGrace: cfg.HeartbeatGrace}, log),
		router:   NewRouter(log),
		codec:    NewCodec(),
		baseCtx:  context.Background(),
		log:      log,
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.security.CheckOrigin,
		Subprotocols:    []string{Subprotocol},
	}

	s.registerHandlers()
	s.router.SetBootCheck(s.bootAccepted)
	if err := s.router.Verify(); err != nil {
		return nil, fmt.Errorf("ocpp router: %w", err)
	}
	return s, nil
}

func (s *Server) Registry() *Registry { return s.registry }

// Handler serves the websocket endpoint under cfg.Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleConnection)
	return mux
}

// Start listens on port until Shutdown. Heartbeat sweeping runs on ctx.
func (s *Server) Start(ctx context.Context, port int, sweepEvery time.Duration) error {
	s.baseCtx = ctx
	tlsCfg, err := s.security.TLSConfig()
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if sweepEvery > 0 {
		go s.registry.Run(ctx, sweepEvery)
	}

	s.log.Info("OCPP server listening", zap.Int("port", port), zap.String("path", s.cfg.Path), zap.Bool("tls", tlsCfg != nil))
	if tlsCfg != nil {
		err = s.http.ListenAndServeTLS("", "")
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.registry.CloseAll(ctx)
	return err
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	chargePointID := strings.TrimPrefix(r.URL.Path, s.cfg.Path)
	if chargePointID == "" || strings.Contains(chargePointID, "/") {
		http.Error(w, "charge point identity required", http.StatusBadRequest)
		return
	}

	if err := s.security.Admit(chargePointID, r); err != nil {
		var he *HandshakeError
		status := http.StatusForbidden
		if errors.As(err, &he) {
			status = he.Status
		}
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Basic realm="ocpp"`)
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade websocket", zap.String("charge_point_id", chargePointID), zap.Error(err))
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	sess := NewSession(chargePointID, newWSTransport(conn, s.cfg.WriteTimeout), SessionConfig{
		CallTimeout:       s.cfg.CallTimeout,
		InboxSize:         s.cfg.InboxSize,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
	}, s.log)

	ctx := s.baseCtx
	result, err := s.registry.Admit(ctx, chargePointID, sess)
	if err != nil {
		s.log.Warn("Admission side effects failed", zap.String("charge_point_id", chargePointID), zap.Error(err))
	}
	defer s.registry.EvictSession(context.WithoutCancel(ctx), chargePointID, sess, ReasonConnectionClosed)

	s.log.Info("New OCPP connection",
		zap.String("charge_point_id", chargePointID),
		zap.String("session", sess.ID()),
		zap.String("remote_addr", sess.RemoteAddr()),
		zap.Bool("superseded", result.Superseded != nil),
		zap.Int("resumed_transactions", result.Resumed))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Info("WebSocket closed", zap.String("charge_point_id", chargePointID), zap.Error(err))
			}
			return
		}
		s.receive(ctx, sess, data)
	}
}

// receive routes one inbound frame: replies to the correlator, calls to the
// session inbox so they run one at a time.
func (s *Server) receive(ctx context.Context, sess *Session, data []byte) {
	f, err := Decode(data)
	if err != nil {
		if f.Kind == MessageResult || f.Kind == MessageError {
			s.log.Warn("Dropping malformed reply", zap.String("charge_point_id", sess.DeviceID()), zap.Error(err))
			return
		}
		var ce *CallError
		if !errors.As(err, &ce) {
			ce = newCallError(FormatViolation, "%v", err)
		}
		reply := EncodeError(f.ID, ce)
		_ = sess.Enqueue(func() { s.send(ctx, sess, reply) })
		return
	}
	sess.Touch(s.now())

	switch f.Kind {
	case MessageCall:
		_ = sess.Enqueue(func() {
			s.send(ctx, sess, s.router.Dispatch(ctx, sess, f))
		})
	default:
		if !sess.Complete(f) {
			s.log.Debug("Reply without pending call",
				zap.String("charge_point_id", sess.DeviceID()),
				zap.String("message_id", f.ID))
		}
	}
}

func (s *Server) send(ctx context.Context, sess *Session, data []byte) {
	if err := sess.Send(ctx, data); err != nil {
		s.log.Warn("Failed to send reply", zap.String("charge_point_id", sess.DeviceID()), zap.Error(err))
	}
}

// IsConnected reports whether the device has a live session.
func (s *Server) IsConnected(deviceID string) bool {
	_, ok := s.registry.Lookup(deviceID)
	return ok
}
