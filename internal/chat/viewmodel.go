// Package chat implements the conversation view-model: one conversation at a
// time, with optimistic local echo of outgoing messages reconciled against
// server-confirmed copies, typing-edge debouncing, and per-conversation
// unread accounting.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/sangamlink/client-go/internal/errs"
	"github.com/sangamlink/client-go/internal/model"
	"github.com/sangamlink/client-go/internal/realtime"
)

// Emitter is the slice of the realtime channel the view-model emits through.
type Emitter interface {
	JoinConversation(conversationID string) error
	LeaveConversation(conversationID string) error
	SendMessage(conversationID, receiverID, content, correlationID string) error
	TypingStart(conversationID string) error
	TypingStop(conversationID string) error
	MarkRead(conversationID string) error
}

// HistoryAPI is the slice of the request layer used for the initial history
// fetch and the REST-side mark-read.
type HistoryAPI interface {
	Messages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

type pendingSend struct {
	timer *time.Timer
}

// ViewModel coordinates the request layer (initial history) and the realtime
// channel (live updates) for the currently selected conversation.
type ViewModel struct {
	emitter Emitter
	history HistoryAPI
	log     *zap.Logger
	selfID  string

	typingIdle   time.Duration
	echoWait     time.Duration
	historyLimit int

	onError  func(error)
	onChange func()

	mu          sync.Mutex
	current     string
	receiverID  string
	epoch       uint64 // bumped on Select; in-flight work from older epochs is dropped
	messages    []model.Message
	pending     map[string]*pendingSend
	unread      map[string]int
	loadErr     error
	typing      bool
	typingTimer *time.Timer
	otherTyping bool
}

// Option configures a ViewModel.
type Option func(*ViewModel)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(vm *ViewModel) { vm.log = log }
}

// WithTypingIdle overrides the typing idle window.
func WithTypingIdle(d time.Duration) Option {
	return func(vm *ViewModel) { vm.typingIdle = d }
}

// WithEchoWait overrides the bounded wait for a server echo, after which an
// optimistic message is marked failed instead of staying "sending" forever.
func WithEchoWait(d time.Duration) Option {
	return func(vm *ViewModel) { vm.echoWait = d }
}

// WithHistoryLimit overrides the history page size.
func WithHistoryLimit(n int) Option {
	return func(vm *ViewModel) { vm.historyLimit = n }
}

// WithErrorHandler registers the sink for send failures.
func WithErrorHandler(fn func(error)) Option {
	return func(vm *ViewModel) { vm.onError = fn }
}

// WithChangeHandler registers the render-invalidation callback.
func WithChangeHandler(fn func()) Option {
	return func(vm *ViewModel) { vm.onChange = fn }
}

// New creates a view-model for the given viewer.
func New(emitter Emitter, history HistoryAPI, selfID string, opts ...Option) *ViewModel {
	vm := &ViewModel{
		emitter:      emitter,
		history:      history,
		log:          zap.NewNop(),
		selfID:       selfID,
		typingIdle:   2 * time.Second,
		echoWait:     15 * time.Second,
		historyLimit: 50,
		pending:      map[string]*pendingSend{},
		unread:       map[string]int{},
	}
	for _, o := range opts {
		o(vm)
	}
	return vm
}

// Bind wires the view-model to a realtime channel and returns a detachment
// handle covering all subscriptions.
func (vm *ViewModel) Bind(ch *realtime.Channel) func() {
	detaches := []func(){
		ch.OnNewMessage(vm.ApplyNewMessage),
		ch.OnMessageError(vm.ApplyMessageError),
		ch.OnTypingStart(func(ev realtime.TypingEvent) { vm.applyTyping(ev, true) }),
		ch.OnTypingStop(func(ev realtime.TypingEvent) { vm.applyTyping(ev, false) }),
	}
	return func() {
		for _, d := range detaches {
			d()
		}
	}
}

// Select switches to a conversation: it is a cancellation boundary. All
// pending correlation IDs from the previous conversation are invalidated,
// the viewer's unread counter is zeroed optimistically, and the history
// fetch commits only if the selection is still current when it resolves.
func (vm *ViewModel) Select(ctx context.Context, conversationID, receiverID string) error {
	vm.mu.Lock()
	prev := vm.current
	vm.epoch++
	epoch := vm.epoch
	for _, p := range vm.pending {
		p.timer.Stop()
	}
	vm.pending = map[string]*pendingSend{}
	vm.messages = nil
	vm.loadErr = nil
	vm.otherTyping = false
	wasTyping := vm.typing
	vm.typing = false
	if vm.typingTimer != nil {
		vm.typingTimer.Stop()
	}
	vm.current = conversationID
	vm.receiverID = receiverID
	vm.unread[conversationID] = 0
	vm.mu.Unlock()

	if wasTyping && prev != "" {
		_ = vm.emitter.TypingStop(prev)
	}
	if prev != "" && prev != conversationID {
		_ = vm.emitter.LeaveConversation(prev)
	}
	if err := vm.emitter.JoinConversation(conversationID); err != nil {
		vm.log.Warn("join failed", zap.String("conversationId", conversationID), zap.Error(err))
	}
	_ = vm.emitter.MarkRead(conversationID)
	if err := vm.history.MarkConversationRead(ctx, conversationID); err != nil {
		// Optimistic zeroing stands; the next list refresh reconciles.
		vm.log.Warn("mark read failed", zap.Error(err))
	}

	return vm.load(ctx, conversationID, epoch)
}

// RetryLoad retries a failed history fetch for the current conversation.
func (vm *ViewModel) RetryLoad(ctx context.Context) error {
	vm.mu.Lock()
	conversationID := vm.current
	epoch := vm.epoch
	vm.loadErr = nil
	vm.mu.Unlock()
	if conversationID == "" {
		return errors.New("chat: no conversation selected")
	}
	return vm.load(ctx, conversationID, epoch)
}

func (vm *ViewModel) load(ctx context.Context, conversationID string, epoch uint64) error {
	msgs, err := vm.history.Messages(ctx, conversationID, vm.historyLimit)

	vm.mu.Lock()
	if vm.epoch != epoch || vm.current != conversationID {
		// The user moved on; a stale response must never overwrite the
		// newer conversation's view.
		vm.mu.Unlock()
		return nil
	}
	if err != nil {
		vm.loadErr = err
		vm.mu.Unlock()
		return err
	}
	vm.messages = msgs
	vm.mu.Unlock()
	vm.notifyChange()
	return nil
}

// Send appends an optimistic message immediately and emits the send event
// carrying a fresh correlation ID. The returned message has a temporary ID
// until the server echo replaces it in place.
func (vm *ViewModel) Send(content string) (model.Message, error) {
	corr, err := uuid.NewV4()
	if err != nil {
		return model.Message{}, err
	}
	corrID := corr.String()

	vm.mu.Lock()
	if vm.current == "" {
		vm.mu.Unlock()
		return model.Message{}, errors.New("chat: no conversation selected")
	}
	conversationID, receiverID := vm.current, vm.receiverID
	epoch := vm.epoch
	msg := model.Message{
		ID:             "tmp-" + corrID,
		ConversationID: conversationID,
		SenderID:       vm.selfID,
		ReceiverID:     receiverID,
		Content:        content,
		CreatedAt:      time.Now(),
		CorrelationID:  corrID,
		Optimistic:     true,
		Status:         model.MessageSending,
	}
	vm.messages = append(vm.messages, msg)
	vm.pending[corrID] = &pendingSend{
		timer: time.AfterFunc(vm.echoWait, func() { vm.expireSend(epoch, corrID) }),
	}
	wasTyping := vm.typing
	vm.typing = false
	if vm.typingTimer != nil {
		vm.typingTimer.Stop()
	}
	vm.mu.Unlock()

	if wasTyping {
		_ = vm.emitter.TypingStop(conversationID)
	}
	if err := vm.emitter.SendMessage(conversationID, receiverID, content, corrID); err != nil {
		vm.dropPending(corrID)
		return model.Message{}, err
	}
	vm.notifyChange()
	return msg, nil
}

// Retry re-sends a failed optimistic message under a fresh correlation ID.
func (vm *ViewModel) Retry(correlationID string) (string, error) {
	corr, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	newID := corr.String()

	vm.mu.Lock()
	idx := -1
	for i := range vm.messages {
		if vm.messages[i].CorrelationID == correlationID && vm.messages[i].Status == model.MessageFailed {
			idx = i
			break
		}
	}
	if idx < 0 {
		vm.mu.Unlock()
		return "", errors.New("chat: no failed message with that correlation id")
	}
	vm.messages[idx].CorrelationID = newID
	vm.messages[idx].ID = "tmp-" + newID
	vm.messages[idx].Status = model.MessageSending
	conversationID, receiverID := vm.current, vm.receiverID
	content := vm.messages[idx].Content
	epoch := vm.epoch
	vm.pending[newID] = &pendingSend{
		timer: time.AfterFunc(vm.echoWait, func() { vm.expireSend(epoch, newID) }),
	}
	vm.mu.Unlock()

	if err := vm.emitter.SendMessage(conversationID, receiverID, content, newID); err != nil {
		vm.dropPending(newID)
		return "", err
	}
	vm.notifyChange()
	return newID, nil
}

// expireSend marks an un-echoed optimistic message failed after the bounded
// wait so it never stays "sending" forever.
func (vm *ViewModel) expireSend(epoch uint64, correlationID string) {
	vm.mu.Lock()
	if vm.epoch != epoch {
		vm.mu.Unlock()
		return
	}
	p, ok := vm.pending[correlationID]
	if !ok {
		vm.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(vm.pending, correlationID)
	for i := range vm.messages {
		if vm.messages[i].CorrelationID == correlationID && vm.messages[i].Optimistic {
			vm.messages[i].Status = model.MessageFailed
			break
		}
	}
	fn := vm.onError
	vm.mu.Unlock()
	if fn != nil {
		fn(fmt.Errorf("%w: correlation %s", errs.ErrEchoTimeout, correlationID))
	}
	vm.notifyChange()
}

// dropPending removes both the pending entry and its provisional message.
func (vm *ViewModel) dropPending(correlationID string) {
	vm.mu.Lock()
	if p, ok := vm.pending[correlationID]; ok {
		p.timer.Stop()
		delete(vm.pending, correlationID)
	}
	for i := range vm.messages {
		if vm.messages[i].CorrelationID == correlationID && vm.messages[i].Optimistic {
			vm.messages = append(vm.messages[:i], vm.messages[i+1:]...)
			break
		}
	}
	vm.mu.Unlock()
	vm.notifyChange()
}

// ApplyNewMessage reconciles an incoming authoritative message. Echoes of
// own sends replace the provisional entry in place (same list position);
// anything else is appended only if no entry shares its authoritative ID.
// Arrival order is not send order, so matching is by ID, never FIFO.
func (vm *ViewModel) ApplyNewMessage(ev realtime.NewMessageEvent) {
	msg := ev.Message
	msg.Status = model.MessageSent
	if msg.ConversationID == "" {
		msg.ConversationID = ev.ConversationID
	}
	corrID := ev.CorrelationID
	if corrID == "" {
		corrID = msg.CorrelationID
	}

	vm.mu.Lock()
	if msg.ConversationID != vm.current {
		// Not on screen: bump that conversation's unread badge.
		if msg.SenderID != vm.selfID {
			vm.unread[msg.ConversationID]++
		}
		vm.mu.Unlock()
		vm.notifyChange()
		return
	}

	if corrID != "" {
		if p, ok := vm.pending[corrID]; ok {
			p.timer.Stop()
			delete(vm.pending, corrID)
			msg.CorrelationID = corrID
			for i := range vm.messages {
				if vm.messages[i].CorrelationID == corrID && vm.messages[i].Optimistic {
					vm.messages[i] = msg
					vm.mu.Unlock()
					vm.notifyChange()
					return
				}
			}
			// Provisional entry gone (e.g. reload raced the echo); fall
			// through to dedupe-and-append.
		}
	}

	for i := range vm.messages {
		if vm.messages[i].ID == msg.ID {
			vm.mu.Unlock()
			return
		}
	}
	if msg.SenderID != vm.selfID {
		vm.otherTyping = false
	}
	vm.messages = append(vm.messages, msg)
	vm.mu.Unlock()
	vm.notifyChange()
}

// ApplyMessageError rolls back the optimistic entry for a rejected send; no
// automatic retry is attempted.
func (vm *ViewModel) ApplyMessageError(ev realtime.MessageErrorEvent) {
	vm.mu.Lock()
	p, ok := vm.pending[ev.CorrelationID]
	if !ok {
		// Stale rejection from a conversation already abandoned.
		vm.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(vm.pending, ev.CorrelationID)
	for i := range vm.messages {
		if vm.messages[i].CorrelationID == ev.CorrelationID && vm.messages[i].Optimistic {
			vm.messages = append(vm.messages[:i], vm.messages[i+1:]...)
			break
		}
	}
	fn := vm.onError
	vm.mu.Unlock()
	if fn != nil {
		fn(fmt.Errorf("message rejected: %s", ev.Message))
	}
	vm.notifyChange()
}

func (vm *ViewModel) applyTyping(ev realtime.TypingEvent, start bool) {
	vm.mu.Lock()
	if ev.ConversationID != vm.current || ev.UserID == vm.selfID {
		vm.mu.Unlock()
		return
	}
	vm.otherTyping = start
	vm.mu.Unlock()
	vm.notifyChange()
}

// Keystroke records local typing input. The false→true edge emits exactly
// one typing-start; the idle window (or a send) emits exactly one
// typing-stop. Intermediate keystrokes only rearm the idle timer.
func (vm *ViewModel) Keystroke() {
	vm.mu.Lock()
	if vm.current == "" {
		vm.mu.Unlock()
		return
	}
	conversationID := vm.current
	epoch := vm.epoch
	first := !vm.typing
	vm.typing = true
	if vm.typingTimer != nil {
		vm.typingTimer.Stop()
	}
	vm.typingTimer = time.AfterFunc(vm.typingIdle, func() { vm.typingIdleElapsed(epoch, conversationID) })
	vm.mu.Unlock()

	if first {
		_ = vm.emitter.TypingStart(conversationID)
	}
}

func (vm *ViewModel) typingIdleElapsed(epoch uint64, conversationID string) {
	vm.mu.Lock()
	if vm.epoch != epoch || !vm.typing {
		vm.mu.Unlock()
		return
	}
	vm.typing = false
	vm.mu.Unlock()
	_ = vm.emitter.TypingStop(conversationID)
}

// SyncUnread reconciles local unread counters with a fresh conversation
// list from the server.
func (vm *ViewModel) SyncUnread(convs []model.Conversation) {
	vm.mu.Lock()
	for _, c := range convs {
		if c.ID == vm.current {
			continue // viewer is looking at it; optimistic zero stands
		}
		vm.unread[c.ID] = c.UnreadFor(vm.selfID)
	}
	vm.mu.Unlock()
	vm.notifyChange()
}

// Messages returns a copy of the current conversation's message list.
func (vm *ViewModel) Messages() []model.Message {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]model.Message, len(vm.messages))
	copy(out, vm.messages)
	return out
}

// Current returns the selected conversation ID.
func (vm *ViewModel) Current() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.current
}

// Unread returns the viewer's unread count for a conversation.
func (vm *ViewModel) Unread(conversationID string) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.unread[conversationID]
}

// LoadError returns the retryable history-fetch error, nil when none.
func (vm *ViewModel) LoadError() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.loadErr
}

// OtherTyping reports whether the other participant is typing.
func (vm *ViewModel) OtherTyping() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.otherTyping
}

// Close stops outstanding timers.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, p := range vm.pending {
		p.timer.Stop()
	}
	vm.pending = map[string]*pendingSend{}
	if vm.typingTimer != nil {
		vm.typingTimer.Stop()
	}
}

func (vm *ViewModel) notifyChange() {
	if vm.onChange != nil {
		vm.onChange()
	}
}
