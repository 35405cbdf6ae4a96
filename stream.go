package zotero

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ConnState is the lifecycle state of a Stream.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// StreamCallback receives the confirmation event of a subscribe or
// unsubscribe request, or an error if the stream closed first.
type StreamCallback func(ev Event, err error)

// Stream maintains one push connection to the streaming API. It keeps the
// desired subscriptions locally, replays them whenever a connection opens,
// and reconnects after abnormal closes until Close is called.
//
// Every connection gets a generation number. Close and each new Open bump
// it, so goroutines of a replaced connection drop their events instead of
// acting on the current one.
type Stream struct {
	cfg *streamConfig
	log *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	state      ConnState
	conn       Conn
	cancel     context.CancelFunc
	gen        uint64
	subs       *SubscriptionSet
	backoff    Backoff
	attempts   int
	retryTimer Timer
	created    []*pendingCall
	deleted    []*pendingCall
}

// pendingCall is a callback waiting for a server confirmation.
type pendingCall struct {
	cb StreamCallback
}

// NewStream returns a closed stream. Call Open to connect.
func NewStream(opts ...StreamOption) *Stream {
	cfg := defaultStreamConfig()
	for _, o := range opts {
		o(cfg)
	}
	return newStream(cfg)
}

// NewStream returns a closed stream that sends the client's default headers
// and API key and shares its logger and clock.
func (c *Client) NewStream(opts ...StreamOption) *Stream {
	cfg := defaultStreamConfig()
	cfg.headers = c.cfg.headers.Clone()
	cfg.apiKey = c.cfg.apiKey
	cfg.logger = c.cfg.logger
	cfg.clock = c.cfg.clock
	for _, o := range opts {
		o(cfg)
	}
	return newStream(cfg)
}

func newStream(cfg *streamConfig) *Stream {
	return &Stream{
		cfg:     cfg,
		log:     cfg.logger.With(slog.String("component", "stream")),
		subs:    NewSubscriptionSet(),
		backoff: cfg.backoff,
	}
}

// State returns the connection state.
func (s *Stream) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscriptions returns a copy of the desired subscriptions.
func (s *Stream) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.Subscriptions()
}

// Topics returns the union of all subscribed topics.
func (s *Stream) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.Topics()
}

// RetryDelay returns the delay before the first reconnect attempt.
func (s *Stream) RetryDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff.Min
}

// Open starts connecting in the background. It fails with ErrStreamOpen
// when a connection exists or is being established. A pending reconnect is
// superseded.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *Stream) openLocked() error {
	if s.state != StateClosed {
		return ErrStreamOpen
	}
	s.stopRetryLocked()

	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateConnecting

	go s.connect(ctx, s.gen)
	return nil
}

// Close closes the connection with the normal close code and cancels any
// pending reconnect. Waiting subscribe and unsubscribe callbacks receive
// ErrStreamClosed. Closing a stream that is closed with no reconnect
// pending fails with ErrStreamClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state == StateClosed && s.retryTimer == nil {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.stopRetryLocked()
	s.gen++
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	s.state = StateClosed
	s.attempts = 0
	waiting := s.takeCallbacksLocked()
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Debug("stream closed")

	s.emit(Event{Kind: EventClose, Code: CloseNormal})
	for _, p := range waiting {
		p.cb(Event{}, ErrStreamClosed)
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("zotero: close stream: %w", err)
	}
	return nil
}

// Subscribe records subs in the local set, replacing the topics of existing
// entries for the same credentials, and sends them if the stream is open.
// Otherwise they go out with the replay on the next open. cb, if non-nil,
// runs on the next subscriptionsCreated confirmation.
func (s *Stream) Subscribe(subs []Subscription, cb StreamCallback) error {
	var p *pendingCall
	s.mu.Lock()
	s.subs.Update(subs...)
	if cb != nil {
		p = &pendingCall{cb: cb}
		s.created = append(s.created, p)
	}
	conn, open := s.conn, s.state == StateOpen
	s.mu.Unlock()

	if !open {
		s.log.Debug("staged subscriptions", "count", len(subs))
		return nil
	}
	if err := s.send(conn, actionCreateSubscriptions, subs); err != nil {
		s.mu.Lock()
		s.created = dropCall(s.created, p)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe removes refs from the local set and, if the stream is open,
// asks the server to delete them. cb, if non-nil, runs on the next
// subscriptionsDeleted confirmation, or right away when the stream is not
// open. If the connection drops first, the next open settles it.
func (s *Stream) Unsubscribe(refs []TopicRef, cb StreamCallback) error {
	var p *pendingCall
	s.mu.Lock()
	s.subs.Cancel(refs...)
	conn, open := s.conn, s.state == StateOpen
	if open && cb != nil {
		p = &pendingCall{cb: cb}
		s.deleted = append(s.deleted, p)
	}
	s.mu.Unlock()

	if !open {
		if cb != nil {
			cb(Event{Kind: EventSubscriptionsDeleted}, nil)
		}
		return nil
	}

	subs := make([]Subscription, 0, len(refs))
	for _, ref := range refs {
		sub := Subscription{APIKey: ref.APIKey}
		if ref.Topic != "" {
			sub.Topics = []string{ref.Topic}
		}
		subs = append(subs, sub)
	}
	if err := s.send(conn, actionDeleteSubscriptions, subs); err != nil {
		s.mu.Lock()
		s.deleted = dropCall(s.deleted, p)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Stream) connect(ctx context.Context, gen uint64) {
	header := s.handshakeHeader()

	s.log.Debug("connecting", "url", s.cfg.url)
	conn, err := s.cfg.dialer.Dial(ctx, s.cfg.url, header)
	if err != nil {
		s.closed(gen, -1, fmt.Errorf("zotero: dial stream: %w", err))
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	s.stopRetryLocked()
	s.conn = conn
	s.state = StateOpen
	s.attempts = 0

	// Deletions requested on an earlier connection will never be confirmed.
	// The local set already reflects them, so the replay settles them. With
	// nothing to replay, pending subscribe callbacks are settled too.
	var (
		replay         []Subscription
		settledCreated []*pendingCall
	)
	if s.subs.IsEmpty() {
		settledCreated, s.created = s.created, nil
	} else {
		replay = s.subs.Subscriptions()
	}
	settledDeleted := s.deleted
	s.deleted = nil
	s.mu.Unlock()

	if replay != nil {
		s.log.Debug("replaying subscriptions", "count", len(replay))
		if err := s.send(conn, actionCreateSubscriptions, replay); err != nil {
			s.emit(Event{Kind: EventError, Err: err})
		}
	}
	s.emit(Event{Kind: EventOpen})
	for _, p := range settledCreated {
		p.cb(Event{Kind: EventSubscriptionsCreated}, nil)
	}
	for _, p := range settledDeleted {
		p.cb(Event{Kind: EventSubscriptionsDeleted}, nil)
	}

	s.readLoop(ctx, conn, gen)
}

func (s *Stream) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.closed(gen, closeCode(err), err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.route(gen, data)
	}
}

// closed handles the end of connection gen. Abnormal codes schedule one
// reconnect; normal and credential codes are terminal.
func (s *Stream) closed(gen uint64, code int, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.conn, s.cancel = nil, nil
	s.state = StateClosed

	terminal := s.cfg.terminalCodes[code]
	var (
		delay   time.Duration
		waiting []*pendingCall
	)
	if terminal {
		s.attempts = 0
		waiting = s.takeCallbacksLocked()
	} else if s.retryTimer == nil {
		s.attempts++
		delay = s.backoff.Next(s.attempts)
		s.retryTimer = s.cfg.clock.AfterFunc(delay, func() { s.reconnect(gen) })
	}
	s.mu.Unlock()

	if terminal {
		s.log.Debug("connection closed", "code", code)
	} else {
		s.log.Warn("connection lost, reconnecting", "code", code, "delay", delay, "error", err)
	}

	ev := Event{Kind: EventClose, Code: code}
	if code != CloseNormal {
		ev.Err = err
	}
	s.emit(ev)
	for _, p := range waiting {
		p.cb(Event{}, ErrStreamClosed)
	}
}

// reconnect runs when the retry timer armed by connection gen fires.
func (s *Stream) reconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.retryTimer = nil
	if err := s.openLocked(); err != nil {
		s.log.Debug("reconnect skipped", "error", err)
	}
}

// route applies one inbound frame of connection gen.
func (s *Stream) route(gen uint64, data []byte) {
	ev, err := decodeEvent(data)

	var (
		cb     StreamCallback
		addErr error
	)
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("dropping stream frame", "error", err)
		s.emit(Event{Kind: EventError, Err: err, Raw: data})
		return
	}
	switch ev.Kind {
	case EventConnected:
		if ev.Retry > 0 {
			s.backoff.Min = ev.Retry
		}
		if ev.Topics != nil {
			s.subs.Update(Subscription{APIKey: s.cfg.apiKey, Topics: ev.Topics})
		}
	case EventSubscriptionsCreated:
		s.subs.Update(ev.Subscriptions...)
		for _, e := range ev.Errors {
			s.subs.Remove(e.APIKey, e.Topic)
		}
		cb, s.created = popCallback(s.created)
	case EventSubscriptionsDeleted:
		cb, s.deleted = popCallback(s.deleted)
	case EventTopicAdded:
		addErr = s.subs.Add(ev.APIKey, ev.Topic)
	case EventTopicRemoved:
		s.subs.Remove(ev.APIKey, ev.Topic)
	}
	s.mu.Unlock()

	if addErr != nil {
		s.emit(Event{Kind: EventError, Err: addErr, Raw: data})
	}
	s.emit(ev)
	if cb != nil {
		cb(ev, nil)
	}
}

// send writes one request frame on conn. Writes are serialized.
func (s *Stream) send(conn Conn, action string, subs []Subscription) error {
	if conn == nil {
		return ErrNotConnected
	}
	data, err := encodeRequest(action, subs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.writeTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("zotero: send %s: %w", action, err)
	}
	s.log.Debug("sent", "action", action, "subscriptions", len(subs))
	return nil
}

func (s *Stream) emit(ev Event) {
	if s.cfg.onEvent != nil {
		s.cfg.onEvent(ev)
	}
}

func (s *Stream) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Stream) takeCallbacksLocked() []*pendingCall {
	waiting := append(s.created, s.deleted...)
	s.created, s.deleted = nil, nil
	return waiting
}

func popCallback(q []*pendingCall) (StreamCallback, []*pendingCall) {
	if len(q) == 0 {
		return nil, q
	}
	return q[0].cb, q[1:]
}

// dropCall removes p from q. A nil p leaves q unchanged.
func dropCall(q []*pendingCall, p *pendingCall) []*pendingCall {
	if i := slices.Index(q, p); p != nil && i >= 0 {
		return slices.Delete(q, i, i+1)
	}
	return q
}

func (s *Stream) handshakeHeader() http.Header {
	header := s.cfg.headers.Clone()
	if s.cfg.apiKey != "" {
		header.Set("Zotero-API-Key", s.cfg.apiKey)
	}
	return header
}
