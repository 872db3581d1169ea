package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/yinjg1997/customer-agent/agent"
	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/internal/metrics"
	"github.com/yinjg1997/customer-agent/internal/profile"
	"github.com/yinjg1997/customer-agent/pipeline"
	"github.com/yinjg1997/customer-agent/store"
)

// stopJoinTimeout bounds the per-session wait during StopAll.
const stopJoinTimeout = 5 * time.Second

// Supervisor starts and stops account sessions. At most one session
// runs per seat; overlapping starts for the same seat yield exactly one
// session and one ErrAlreadyRunning.
type Supervisor struct {
	logger    *slog.Logger
	store     *store.Store
	profile   *profile.Profile
	connector Connector
	bot       Replier

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSupervisor wires the supervisor to its collaborators.
func NewSupervisor(logger *slog.Logger, st *store.Store, p *profile.Profile, connector Connector, bot Replier) *Supervisor {
	return &Supervisor{
		logger:    logger,
		store:     st,
		profile:   p,
		connector: connector,
		bot:       bot,
		sessions:  make(map[string]*Session),
	}
}

// Start brings up the session for one seat: client, token, transport,
// queue, consumer and handler chain. The returned session is already
// pumping events.
func (s *Supervisor) Start(ctx context.Context, channel, shopID, userID string) (*Session, error) {
	account, err := s.store.GetAccount(ctx, channel, shopID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	if account.Presence != store.PresenceOnline {
		return nil, errors.Wrapf(ErrNotOnline, "presence is %s", account.Presence.String())
	}

	key := sessionKey(channel, shopID, userID)

	// Register the connecting session under the lock so a second Start
	// for the same seat fails before any network work happens.
	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok && existing.State() != StateStopped {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyRunning, "session %s", key)
	}
	session := newSession(key, account, s.logger)
	s.sessions[key] = session
	metrics.ActiveSessions.Inc()
	s.mu.Unlock()

	if err := s.connect(ctx, session); err != nil {
		session.stop()
		s.remove(key, session)
		return nil, err
	}

	session.setState(StateRunning)
	go session.pump()
	s.logger.Info("session started", "session", key)
	return session, nil
}

func (s *Supervisor) connect(ctx context.Context, session *Session) error {
	account := session.account

	client, err := s.connector.Client(ctx, account)
	if err != nil {
		return err
	}
	token, err := client.GetToken(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch access token")
	}
	transport, err := s.connector.Dial(ctx, token)
	if err != nil {
		return err
	}

	chain, err := s.buildChain(ctx, client, account)
	if err != nil {
		transport.Close()
		return err
	}

	queue := pipeline.NewQueue(s.profile.QueueMaxSize)
	consumer := pipeline.NewConsumer(s.logger, queue, chain, client, pipeline.ConsumerOptions{
		Channel:        account.Channel,
		MaxConcurrent:  s.profile.MaxConcurrent,
		DispatcherIdle: time.Duration(s.profile.DispatcherIdle) * time.Second,
	})
	go consumer.Run(context.Background())

	session.transport = transport
	session.queue = queue
	session.consumer = consumer
	return nil
}

// buildChain assembles the handler chain for one account: business
// hours, transfer to human, AI reply. Transfer keywords come from the
// store; the built-in list applies when the table is empty.
func (s *Supervisor) buildChain(ctx context.Context, client Platform, account *store.Account) (pipeline.Chain, error) {
	hours, err := pipeline.NewBusinessHoursHandler(s.logger, client, s.profile.BusinessStart, s.profile.BusinessEnd)
	if err != nil {
		return nil, errors.Wrap(err, "business hours")
	}

	keywords, err := s.store.ListKeywords(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load transfer keywords")
	}
	selfUID := pdd.SeatUID(account.ShopID, account.UserID)
	transfer := pipeline.NewTransferToHumanHandler(s.logger, client, selfUID, keywords)

	ai := pipeline.NewAIReplyHandler(s.logger, client, s.bot, agent.Normalize, account.ShopID)
	return pipeline.Chain{hours, transfer, ai}, nil
}

// Stop tears down the session for one seat. Idempotent; stopping a
// seat with no live session is a no-op.
func (s *Supervisor) Stop(channel, shopID, userID string) {
	key := sessionKey(channel, shopID, userID)

	s.mu.Lock()
	session, ok := s.sessions[key]
	s.mu.Unlock()
	if !ok {
		return
	}

	session.stop()
	s.remove(key, session)
}

func (s *Supervisor) remove(key string, session *Session) {
	s.mu.Lock()
	if s.sessions[key] == session {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
}

// StartOutcome is one account's result from StartAll.
type StartOutcome struct {
	Channel string
	ShopID  string
	UserID  string
	Err     error
}

// StartAll starts every online account that is not already running and
// reports the per-account outcomes.
func (s *Supervisor) StartAll(ctx context.Context) ([]StartOutcome, error) {
	online := store.PresenceOnline
	accounts, err := s.store.ListAccounts(ctx, &store.FindAccount{Presence: &online})
	if err != nil {
		return nil, errors.Wrap(err, "list online accounts")
	}

	outcomes := make([]StartOutcome, 0, len(accounts))
	for _, account := range accounts {
		_, err := s.Start(ctx, account.Channel, account.ShopID, account.UserID)
		if err != nil {
			s.logger.Warn("account start failed",
				"shop_id", account.ShopID, "user_id", account.UserID, "error", err)
		}
		outcomes = append(outcomes, StartOutcome{
			Channel: account.Channel,
			ShopID:  account.ShopID,
			UserID:  account.UserID,
			Err:     err,
		})
	}
	return outcomes, nil
}

// StopAll fans out stop to every live session and waits for each with a
// bounded join.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(session *Session) {
			defer wg.Done()
			go session.stop()
			select {
			case <-session.Done():
			case <-time.After(stopJoinTimeout):
				s.logger.Warn("session stop timed out", "session", session.key)
			}
		}(session)
	}
	wg.Wait()
}

// SessionInfo is a point-in-time view of one live session, for the
// admin surface.
type SessionInfo struct {
	Channel     string
	ShopID      string
	UserID      string
	State       string
	Dispatchers int
	QueueLen    int
}

// Sessions snapshots the live session table.
func (s *Supervisor) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, SessionInfo{
			Channel:     session.account.Channel,
			ShopID:      session.account.ShopID,
			UserID:      session.account.UserID,
			State:       session.State().String(),
			Dispatchers: session.DispatcherCount(),
			QueueLen:    session.QueueLen(),
		})
	}
	return infos
}

// Session returns the live session for one seat, or nil.
func (s *Supervisor) Session(channel, shopID, userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionKey(channel, shopID, userID)]
}
