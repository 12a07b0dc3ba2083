package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karavansky/moment-realtime/internal/api"
	"github.com/karavansky/moment-realtime/internal/broadcast"
	"github.com/karavansky/moment-realtime/internal/config"
	"github.com/karavansky/moment-realtime/internal/connection"
	"github.com/karavansky/moment-realtime/internal/dispatch"
	"github.com/karavansky/moment-realtime/internal/frame"
	"github.com/karavansky/moment-realtime/internal/history"
	"github.com/karavansky/moment-realtime/internal/identity"
	"github.com/karavansky/moment-realtime/internal/store"
	"github.com/karavansky/moment-realtime/internal/subscription"
)

// Service owns one realtime client instance. A Service is bound to the
// identity persisted at construction time; an identity change requires a
// fresh Service so no state leaks across identity boundaries.
type Service struct {
	logger *slog.Logger
	ids    *identity.Store
	self   string // display identity at construction

	apiClient *api.Client
	msgs      *store.MessageStore
	disp      *dispatch.Dispatcher
	coord     *subscription.Coordinator
	mgr       *connection.Manager
	gate      *history.Gate
	bcast     *broadcast.Broadcaster
}

// NewService builds a fully wired Service. Missing credentials are not an
// error here: the manager treats connect-without-credentials as a logged
// no-op and the caller reconnects once a login exists.
func NewService(cfg *config.Config, ids *identity.Store, bus broadcast.LocalBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	var token, self string
	if creds, err := ids.Load(); err == nil {
		token = creds.Token
		self = creds.Identity
	}

	s := &Service{
		logger: logger,
		ids:    ids,
		self:   self,
	}

	s.apiClient = api.NewClient(cfg.API.BaseURL, token,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithLogger(logger),
	)

	s.msgs = store.New(logger)
	s.disp = dispatch.New(logger)

	s.mgr = connection.NewManager(
		connection.ManagerConfig{
			ReconnectBaseDelay: cfg.Connection.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Connection.ReconnectMaxDelay,
			PingTimeout:        cfg.Connection.PingTimeout,
			WriteTimeout:       cfg.Connection.WriteTimeout,
			BufferSize:         cfg.Connection.BufferSize,
		},
		s.credentials,
		func(tok string) string { return api.StreamURL(cfg.API.WSBaseURL, tok) },
		ids,
		connection.Handlers{
			OnOpen:        s.onOpen,
			OnControl:     s.onControl,
			OnEvent:       s.onSocketEvent,
			OnStateChange: s.onStateChange,
			OnTerminated:  s.onTerminated,
		},
		logger,
	)

	s.coord = subscription.New(s.mgr.Send, cfg.Subscription.AckTimeout, logger)
	s.gate = history.NewGate(s.apiClient.FetchHistory, s.msgs, self, !cfg.History.Disabled, logger)
	s.bcast = broadcast.New(bus, s.onBusEnvelope, logger)

	return s
}

// NewBus builds the cross-context bus from config: Redis pub/sub when an
// address is configured, an in-process bus otherwise.
func NewBus(cfg config.RedisConfig, self string, logger *slog.Logger) broadcast.LocalBus {
	if cfg.Addr == "" {
		return broadcast.NewMemBus()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return broadcast.NewRedisBus(rdb, self, logger)
}

// Start resolves the history gate and then opens the connection. The gate
// always resolves, so live connectivity is never blocked by a backlog
// outage. Start does not block.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bcast.Start(); err != nil {
		return err
	}

	go func() {
		s.gate.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mgr.Connect()
	}()

	return nil
}

// Stop tears the instance down: the manager is marked torn down so no
// reconnect timer fires afterwards, subscription timers are cancelled,
// and the bus handle is closed.
func (s *Service) Stop() {
	s.mgr.Close()
	s.coord.Stop()
	s.bcast.Close()
	s.disp.Close()
}

// Connect re-attempts the connection, e.g. after credentials appear. The
// backlog gate still applies: while it is unresolved the dial is deferred
// until it resolves, so replayed history never interleaves with live
// events. A no-op while connecting, open, torn down, or terminated.
func (s *Service) Connect() {
	if s.gate.Done() {
		s.mgr.Connect()
		return
	}
	go func() {
		<-s.gate.Ready()
		s.mgr.Connect()
	}()
}

// Connected reports whether the link is open.
func (s *Service) Connected() bool {
	return s.mgr.Connected()
}

// State returns the connection lifecycle state.
func (s *Service) State() connection.State {
	return s.mgr.State()
}

// Subscribe adds one consumer interest in a topic.
func (s *Service) Subscribe(topic string) {
	s.coord.Subscribe(topic)
}

// Unsubscribe drops one consumer interest in a topic.
func (s *Service) Unsubscribe(topic string) {
	s.coord.Unsubscribe(topic)
}

// ConfirmedTopics returns the topics the server has acknowledged.
func (s *Service) ConfirmedTopics() []string {
	return s.coord.Confirmed()
}

// Messages returns the ordered message log snapshot.
func (s *Service) Messages() []store.Message {
	return s.msgs.Messages()
}

// Events subscribes a consumer to one event kind.
func (s *Service) Events(kind frame.EventKind) (<-chan frame.DomainEvent, func()) {
	return s.disp.Subscribe(kind)
}

// HistoryReady is closed once the backlog gate has resolved.
func (s *Service) HistoryReady() <-chan struct{} {
	return s.gate.Ready()
}

func (s *Service) credentials() (identity.Credentials, bool) {
	creds, err := s.ids.Load()
	if err != nil {
		return identity.Credentials{}, false
	}
	return creds, true
}

func (s *Service) onOpen() {
	s.coord.OnOpen()
}

func (s *Service) onControl(f frame.Frame) {
	s.coord.HandleControl(f)
}

// onSocketEvent is the delivery path for frames received directly from
// the socket: classify ownership, persist chat kinds, dispatch, then
// mirror to sibling contexts. Only this path publishes to the bus.
func (s *Service) onSocketEvent(ev frame.DomainEvent) {
	frame.MarkOwnership(&ev, s.self)

	var msgID string
	if ev.Kind == frame.EventMessageReceived && ev.ChatKind.Valid() {
		msgID = store.NewLiveID()
	}

	s.dispatchLocal(ev, msgID)
	s.bcast.Publish(ev, msgID)
}

// onBusEnvelope is the delivery path for events relayed from a sibling
// context. It re-uses the exact local path a direct frame takes, minus
// the publish, so consumers cannot distinguish the two.
func (s *Service) onBusEnvelope(env broadcast.Envelope) {
	s.dispatchLocal(env.Event, env.MessageID)
}

func (s *Service) dispatchLocal(ev frame.DomainEvent, msgID string) {
	if msgID != "" && ev.Kind == frame.EventMessageReceived && ev.ChatKind.Valid() {
		s.msgs.Append(store.Message{
			ID:        msgID,
			Kind:      ev.ChatKind,
			Author:    ev.Subject,
			Content:   ev.Payload,
			Timestamp: ev.Timestamp,
			IsOwn:     ev.IsOwn,
		})
	}
	s.disp.Emit(ev)
}

func (s *Service) onStateChange(st connection.State) {
	if st != connection.Open {
		s.coord.OnClose()
	}
	s.disp.Emit(frame.DomainEvent{
		Kind:      frame.EventConnectionState,
		Subject:   s.self,
		Payload:   st.String(),
		Timestamp: time.Now(),
	})
}

// onTerminated runs after a policy-violation close: the manager has
// already purged the persisted identity; here the session is invalidated
// server-side so the UI layer can redirect to re-authentication.
func (s *Service) onTerminated() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.apiClient.Logout(ctx); err != nil {
		s.logger.Warn("logout after forced termination failed", "error", err)
	}
}
