package chatlink

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire frames
// ============================================================================

type joinFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}

type pingFrame struct {
	Type string `json:"type"`
	At   int64  `json:"at"`
}

// SendFrame is the outbound chat message frame.
type SendFrame struct {
	Type string   `json:"type"`
	Data SendData `json:"data"`
}

// SendData is the body of a SendFrame.
type SendData struct {
	ThreadID string `json:"thread_id"`
	Body     string `json:"body"`
}

// NewSendFrame builds the frame that posts body to a thread.
func NewSendFrame(threadID, body string) SendFrame {
	return SendFrame{Type: "send", Data: SendData{ThreadID: threadID, Body: body}}
}

// ============================================================================
// Configuration
// ============================================================================

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
)

// RealtimeConfig configures a RealtimeClient. The zero value is usable.
type RealtimeConfig struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	HeartbeatInterval  time.Duration
	DialTimeout        time.Duration
	WriteTimeout       time.Duration

	Dialer  Dialer
	Clock   Clock
	Logger  *zap.Logger
	Metrics *Metrics

	// OnStateChange is called, in order, after every state transition.
	OnStateChange func(RealtimeState)
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &WebSocketDialer{}
	}
	if c.Clock == nil {
		c.Clock = wallClock{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateOpen         RealtimeState = "open"
	StateClosing      RealtimeState = "closing"
)

// Target identifies the conversation to stream. An empty Token connects
// without credentials.
type Target struct {
	ConversationID string
	Token          string
	BaseURL        string
}

// Handler receives every normalized inbound event, in arrival order.
type Handler func(Event)

// ============================================================================
// Loop events
// ============================================================================

type setTarget struct{ target *Target }

type dialed struct{ conn *connection }

type received struct {
	conn *connection
	data []byte
}

type dropped struct {
	conn *connection
	err  error
}

type reconnectDue struct{ seq uint64 }

type heartbeatDue struct{ conn *connection }

// command is an event the caller waits on.
type command struct {
	ev  any
	ack chan struct{}
}

// connection is one transport instance. Loop events carry it so callbacks
// from a superseded instance can be recognised and ignored.
type connection struct {
	id       string
	threadID string
	ctx      context.Context
	cancel   context.CancelFunc

	// conn is written by the dial goroutine before the dialed event is posted.
	conn Conn
	// established is owned by the loop.
	established bool
	open        atomic.Bool
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient keeps one live chat connection open for the active Target,
// reconnecting with capped exponential backoff. All state is owned by a single
// loop goroutine; transport and timer callbacks only post events to it.
type RealtimeClient struct {
	cfg     RealtimeConfig
	handler Handler
	log     *zap.Logger

	events    chan any
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	disp      *dispatcher

	ready    atomic.Bool
	stateV   atomic.Value
	attempts atomic.Int64
	live     atomic.Pointer[connection]

	// loop-owned
	state        RealtimeState
	target       *Target
	policy       ReconnectPolicy
	current      *connection
	reconnect    Timer
	reconnectSeq uint64
	heartbeat    Timer
}

// NewRealtimeClient starts an idle client. Call SetTarget to connect.
func NewRealtimeClient(handler Handler, config *RealtimeConfig) *RealtimeClient {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	rc := &RealtimeClient{
		cfg:     cfg,
		handler: handler,
		log:     cfg.Logger.Named("realtime"),
		events:  make(chan any, 64),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		state:   StateDisconnected,
		policy: ReconnectPolicy{
			BaseDelay: cfg.ReconnectBaseDelay,
			MaxDelay:  cfg.ReconnectMaxDelay,
		},
	}
	rc.stateV.Store(StateDisconnected)
	rc.disp = newDispatcher(rc.log)
	go rc.disp.run()
	go rc.run()
	return rc
}

// SetTarget makes t the active conversation. Any existing connection is torn
// down first and the reconnect policy starts over. Setting the target that is
// already active does nothing.
func (rc *RealtimeClient) SetTarget(t Target) {
	rc.apply(setTarget{target: &t})
}

// Clear tears down the connection and leaves the client idle.
func (rc *RealtimeClient) Clear() {
	rc.apply(setTarget{target: nil})
}

// Close tears down the connection and stops the client. It is safe to call
// more than once, including from a Handler.
func (rc *RealtimeClient) Close() error {
	rc.closeOnce.Do(func() {
		close(rc.quit)
	})
	<-rc.stopped
	rc.disp.stop()
	return nil
}

// State returns the current connection state.
func (rc *RealtimeClient) State() RealtimeState {
	return rc.stateV.Load().(RealtimeState)
}

// Attempts returns the current reconnect attempt count.
func (rc *RealtimeClient) Attempts() int {
	return int(rc.attempts.Load())
}

// Ready reports whether the live connection is open.
func (rc *RealtimeClient) Ready() bool {
	return rc.ready.Load()
}

// Send serializes payload as JSON and writes it to the live connection. It
// returns false, without retrying or queueing, when the connection is not
// open or the write fails; callers fall back to REST in that case.
func (rc *RealtimeClient) Send(payload any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rc.log.Debug("send panicked", zap.Any("panic_info", r))
			ok = false
		}
	}()
	if !rc.ready.Load() {
		return false
	}
	c := rc.live.Load()
	if c == nil || !c.open.Load() {
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		rc.log.Debug("payload not serializable", zap.Error(err))
		return false
	}
	err = rc.write(c, data)
	rc.cfg.Metrics.sent("send", err)
	if err != nil {
		rc.log.Debug("send failed", zap.String("conn_id", c.id), zap.Error(err))
		return false
	}
	return true
}

// SendMessage posts body to the connected thread.
func (rc *RealtimeClient) SendMessage(body string) bool {
	c := rc.live.Load()
	if c == nil {
		return false
	}
	return rc.Send(NewSendFrame(c.threadID, body))
}

// ----------------------------------------------------------------------------
// Loop plumbing
// ----------------------------------------------------------------------------

// post hands ev to the loop. It reports false once the client is closed.
func (rc *RealtimeClient) post(ev any) bool {
	select {
	case <-rc.quit:
		return false
	default:
	}
	select {
	case rc.events <- ev:
		return true
	case <-rc.quit:
		return false
	}
}

// apply posts ev and waits until the loop has handled it.
func (rc *RealtimeClient) apply(ev any) {
	ack := make(chan struct{})
	if !rc.post(command{ev: ev, ack: ack}) {
		return
	}
	select {
	case <-ack:
	case <-rc.stopped:
	}
}

func (rc *RealtimeClient) run() {
	defer close(rc.stopped)
	for {
		select {
		case <-rc.quit:
			rc.target = nil
			rc.teardown("client closed")
			return
		case ev := <-rc.events:
			rc.handle(ev)
		}
	}
}

func (rc *RealtimeClient) handle(ev any) {
	switch ev := ev.(type) {
	case command:
		rc.handle(ev.ev)
		close(ev.ack)
	case setTarget:
		rc.retarget(ev.target)
	case dialed:
		rc.onOpen(ev.conn)
	case received:
		rc.onFrame(ev.conn, ev.data)
	case dropped:
		rc.onDrop(ev.conn, ev.err)
	case reconnectDue:
		if ev.seq != rc.reconnectSeq || rc.reconnect == nil {
			return
		}
		rc.reconnect = nil
		if rc.target != nil && rc.current == nil {
			rc.connect()
		}
	case heartbeatDue:
		rc.onHeartbeat(ev.conn)
	}
}

// ----------------------------------------------------------------------------
// Transitions
// ----------------------------------------------------------------------------

func (rc *RealtimeClient) retarget(t *Target) {
	if t != nil && rc.target != nil && *t == *rc.target {
		return
	}
	rc.teardown("target changed")
	rc.target = t
	rc.policy.Reset()
	rc.attempts.Store(0)
	if t != nil {
		rc.connect()
	}
}

func (rc *RealtimeClient) connect() {
	t := rc.target
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:       uuid.NewString(),
		threadID: t.ConversationID,
		ctx:      ctx,
		cancel:   cancel,
	}
	rc.current = c
	rc.setState(StateConnecting)
	rc.cfg.Metrics.connectAttempt()

	liveURL := BuildLiveURL(t.BaseURL, t.ConversationID, t.Token)
	rc.log.Debug("connecting",
		zap.String("conn_id", c.id),
		zap.String("thread_id", c.threadID),
		zap.String("url", redactToken(liveURL)),
		zap.Int("attempt", rc.policy.Attempts),
	)
	go rc.dial(c, liveURL)
}

func (rc *RealtimeClient) dial(c *connection, liveURL string) {
	ctx, cancel := context.WithTimeout(c.ctx, rc.cfg.DialTimeout)
	conn, err := rc.safeDial(ctx, liveURL)
	cancel()
	if err != nil {
		rc.post(dropped{conn: c, err: err})
		return
	}
	c.conn = conn
	if !rc.post(dialed{conn: c}) {
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
}

func (rc *RealtimeClient) safeDial(ctx context.Context, liveURL string) (conn Conn, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn, err = nil, fmt.Errorf("dial panicked: %v", r)
		}
	}()
	conn, err = rc.cfg.Dialer.Dial(ctx, liveURL)
	if err == nil && conn == nil {
		err = fmt.Errorf("dialer returned no connection")
	}
	return conn, err
}

func (rc *RealtimeClient) onOpen(c *connection) {
	if c != rc.current {
		// Superseded while dialing.
		c.cancel()
		go closeQuietly(c.conn, "superseded")
		return
	}
	c.established = true
	c.open.Store(true)
	rc.policy.Reset()
	rc.attempts.Store(0)
	rc.live.Store(c)
	rc.cfg.Metrics.opened()
	rc.setState(StateOpen)
	rc.log.Info("live connection open", zap.String("conn_id", c.id), zap.String("thread_id", c.threadID))

	rc.sendControl(c, "join", joinFrame{Type: "join", ThreadID: c.threadID})
	rc.armHeartbeat(c)
	go rc.readLoop(c)
}

func (rc *RealtimeClient) readLoop(c *connection) {
	for {
		data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.open.Store(false)
			rc.post(dropped{conn: c, err: err})
			return
		}
		if !rc.post(received{conn: c, data: data}) {
			return
		}
	}
}

func (rc *RealtimeClient) onFrame(c *connection, data []byte) {
	if c != rc.current {
		return
	}
	shape, ev := Classify(data)
	rc.cfg.Metrics.received(shape)
	if shape == ShapeBare {
		rc.log.Debug("unrecognized frame delivered as message", zap.String("conn_id", c.id))
	}
	if h := rc.handler; h != nil {
		rc.disp.enqueue(func() { h(ev) })
	}
}

func (rc *RealtimeClient) onDrop(c *connection, err error) {
	if c != rc.current {
		return
	}
	rc.stopHeartbeat()
	rc.release(c, "connection lost")
	rc.setState(StateDisconnected)

	if rc.target == nil {
		return
	}
	rc.policy.Fail()
	rc.attempts.Store(int64(rc.policy.Attempts))
	delay := rc.policy.Delay()
	rc.cfg.Metrics.lost(delay.Seconds())
	rc.log.Info("live connection lost",
		zap.String("conn_id", c.id),
		zap.Error(err),
		zap.Int("attempt", rc.policy.Attempts),
		zap.Duration("retry_in", delay),
	)
	rc.scheduleReconnect(delay)
}

func (rc *RealtimeClient) scheduleReconnect(delay time.Duration) {
	rc.reconnectSeq++
	seq := rc.reconnectSeq
	rc.reconnect = rc.cfg.Clock.AfterFunc(delay, func() {
		rc.post(reconnectDue{seq: seq})
	})
}

func (rc *RealtimeClient) armHeartbeat(c *connection) {
	rc.heartbeat = rc.cfg.Clock.AfterFunc(rc.cfg.HeartbeatInterval, func() {
		rc.post(heartbeatDue{conn: c})
	})
}

func (rc *RealtimeClient) stopHeartbeat() {
	if rc.heartbeat != nil {
		rc.heartbeat.Stop()
		rc.heartbeat = nil
	}
}

func (rc *RealtimeClient) onHeartbeat(c *connection) {
	if c != rc.current || rc.state != StateOpen {
		return
	}
	rc.sendControl(c, "ping", pingFrame{Type: "ping", At: rc.cfg.Clock.Now().UnixMilli()})
	rc.armHeartbeat(c)
}

// teardown cancels both timers and closes the current connection. It is a
// no-op when nothing is active.
func (rc *RealtimeClient) teardown(reason string) {
	if rc.reconnect != nil {
		rc.reconnect.Stop()
		rc.reconnect = nil
	}
	rc.reconnectSeq++
	rc.stopHeartbeat()

	c := rc.current
	if c == nil {
		rc.setState(StateDisconnected)
		return
	}
	rc.setState(StateClosing)
	rc.release(c, reason)
	rc.setState(StateDisconnected)
	rc.log.Debug("live connection closed", zap.String("conn_id", c.id), zap.String("reason", reason))
}

// release drops every reference to c and closes its transport.
func (rc *RealtimeClient) release(c *connection, reason string) {
	rc.current = nil
	rc.live.Store(nil)
	c.open.Store(false)
	rc.cfg.Metrics.closed(c.established)
	if !c.established {
		// Still dialing; cancelling aborts it and onOpen will never see c again.
		c.cancel()
		return
	}
	go func() {
		closeQuietly(c.conn, reason)
		c.cancel()
	}()
}

func (rc *RealtimeClient) setState(s RealtimeState) {
	if s == rc.state {
		return
	}
	rc.state = s
	rc.stateV.Store(s)
	rc.ready.Store(s == StateOpen)
	if cb := rc.cfg.OnStateChange; cb != nil {
		rc.disp.enqueue(func() { cb(s) })
	}
}

// ----------------------------------------------------------------------------
// Writes
// ----------------------------------------------------------------------------

// sendControl writes a join or ping frame. Failures are logged and otherwise
// ignored; only transport close events count against the connection.
func (rc *RealtimeClient) sendControl(c *connection, kind string, frame any) {
	data, err := json.Marshal(frame)
	if err == nil {
		err = rc.write(c, data)
	}
	rc.cfg.Metrics.sent(kind, err)
	if err != nil {
		rc.log.Debug("control frame not sent", zap.String("kind", kind), zap.String("conn_id", c.id), zap.Error(err))
	}
}

func (rc *RealtimeClient) write(c *connection, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(c.ctx, rc.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, data)
}

func closeQuietly(conn Conn, reason string) {
	if conn == nil {
		return
	}
	defer func() { _ = recover() }()
	_ = conn.Close(websocket.StatusNormalClosure, reason)
}

// ============================================================================
// Dispatcher
// ============================================================================

// dispatcher runs consumer callbacks one at a time, in enqueue order, on its
// own goroutine so a callback can call back into the client.
type dispatcher struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
	log   *zap.Logger
}

func newDispatcher(log *zap.Logger) *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		log:  log,
	}
}

func (d *dispatcher) enqueue(f func()) {
	d.mu.Lock()
	d.queue = append(d.queue, f)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-d.wake:
				continue
			case <-d.quit:
				return
			}
		}
		for _, f := range batch {
			select {
			case <-d.quit:
				return
			default:
			}
			d.call(f)
		}
	}
}

func (d *dispatcher) call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic recovered in realtime callback",
				zap.Any("panic_info", r),
				zap.String("stacktrace", string(debug.Stack())),
			)
		}
	}()
	f()
}

func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.quit) })
}
