package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sangamlink/client-go/internal/errs"
	"github.com/sangamlink/client-go/internal/model"
	"github.com/sangamlink/client-go/internal/realtime"
)

type emitted struct {
	op             string
	conversationID string
	correlationID  string
	content        string
}

type fakeEmitter struct {
	mu      sync.Mutex
	events  []emitted
	sendErr error
}

var _ Emitter = (*fakeEmitter)(nil)

func (f *fakeEmitter) record(op, conv, corr, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{op: op, conversationID: conv, correlationID: corr, content: content})
}

func (f *fakeEmitter) JoinConversation(c string) error  { f.record("join", c, "", ""); return nil }
func (f *fakeEmitter) LeaveConversation(c string) error { f.record("leave", c, "", ""); return nil }
func (f *fakeEmitter) SendMessage(c, _, content, corr string) error {
	f.record("send", c, corr, content)
	return f.sendErr
}
func (f *fakeEmitter) TypingStart(c string) error { f.record("typing_start", c, "", ""); return nil }
func (f *fakeEmitter) TypingStop(c string) error  { f.record("typing_stop", c, "", ""); return nil }
func (f *fakeEmitter) MarkRead(c string) error    { f.record("mark_read", c, "", ""); return nil }

func (f *fakeEmitter) ops(op string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.op == op {
			out = append(out, e)
		}
	}
	return out
}

type fakeHistory struct {
	mu       sync.Mutex
	pages    map[string][]model.Message
	err      error
	blockers map[string]chan struct{} // when set, Messages waits for release
	readConv []string
}

var _ HistoryAPI = (*fakeHistory)(nil)

func newFakeHistory() *fakeHistory {
	return &fakeHistory{pages: map[string][]model.Message{}, blockers: map[string]chan struct{}{}}
}

func (f *fakeHistory) Messages(ctx context.Context, conversationID string, _ int) ([]model.Message, error) {
	f.mu.Lock()
	block := f.blockers[conversationID]
	err := f.err
	page := f.pages[conversationID]
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, len(page))
	copy(out, page)
	return out, nil
}

func (f *fakeHistory) MarkConversationRead(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readConv = append(f.readConv, conversationID)
	return nil
}

func msg(id, conv, sender, content string) model.Message {
	return model.Message{ID: id, ConversationID: conv, SenderID: sender, Content: content, Status: model.MessageSent}
}

func echoEvent(conv, corr string, m model.Message) realtime.NewMessageEvent {
	return realtime.NewMessageEvent{
		Envelope: realtime.Envelope{Type: realtime.TypeNewMessage, ConversationID: conv, CorrelationID: corr},
		Message:  m,
	}
}

func TestSelect_LoadsHistoryAndZeroesUnread(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	h.pages["c1"] = []model.Message{msg("m1", "c1", "u2", "hi"), msg("m2", "c1", "u1", "hello")}

	vm := New(em, h, "u1")
	defer vm.Close()
	vm.SyncUnread([]model.Conversation{{ID: "c1", Unread: map[string]int{"u1": 4}}})
	if got := vm.Unread("c1"); got != 4 {
		t.Fatalf("seeded unread: got %d", got)
	}

	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got := len(vm.Messages()); got != 2 {
		t.Fatalf("messages: got %d", got)
	}
	if got := vm.Unread("c1"); got != 0 {
		t.Fatalf("unread must be zeroed optimistically, got %d", got)
	}
	if got := em.ops("join"); len(got) != 1 || got[0].conversationID != "c1" {
		t.Fatalf("join events: %+v", got)
	}
	if got := em.ops("mark_read"); len(got) != 1 {
		t.Fatalf("socket mark_read events: %+v", got)
	}
	if len(h.readConv) != 1 || h.readConv[0] != "c1" {
		t.Fatalf("REST mark-read: %v", h.readConv)
	}
}

func TestSend_OptimisticEchoReplacesInPlace(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	h.pages["c1"] = []model.Message{msg("m1", "c1", "u2", "hi")}

	vm := New(em, h, "u1")
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	sent, err := vm.Send("hello there")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.Status != model.MessageSending || !sent.Optimistic {
		t.Fatalf("optimistic message: %+v", sent)
	}

	// Another incoming message lands before the echo: the provisional entry
	// must keep its position, not jump to the tail.
	vm.ApplyNewMessage(echoEvent("c1", "", msg("m2", "c1", "u2", "and more")))

	vm.ApplyNewMessage(echoEvent("c1", sent.CorrelationID, msg("srv-9", "c1", "u1", "hello there")))

	msgs := vm.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages: got %d, want 3", len(msgs))
	}
	if msgs[1].ID != "srv-9" || msgs[1].Status != model.MessageSent {
		t.Fatalf("echo must replace the provisional entry in place: %+v", msgs[1])
	}
	if msgs[2].ID != "m2" {
		t.Fatalf("interleaved message position: %+v", msgs[2])
	}
	// A redelivered echo must not duplicate.
	vm.ApplyNewMessage(echoEvent("c1", sent.CorrelationID, msg("srv-9", "c1", "u1", "hello there")))
	if got := len(vm.Messages()); got != 3 {
		t.Fatalf("redelivery duplicated: got %d", got)
	}
}

func TestApplyNewMessage_DedupeByAuthoritativeID(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	vm := New(em, h, "u1")
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	in := echoEvent("c1", "", msg("m7", "c1", "u2", "once"))
	vm.ApplyNewMessage(in)
	vm.ApplyNewMessage(in)
	if got := len(vm.Messages()); got != 1 {
		t.Fatalf("duplicate delivery: got %d entries", got)
	}
}

func TestApplyNewMessage_OtherConversationBumpsUnread(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	vm := New(em, h, "u1")
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	vm.ApplyNewMessage(echoEvent("c2", "", msg("m1", "c2", "u3", "psst")))
	vm.ApplyNewMessage(echoEvent("c2", "", msg("m2", "c2", "u3", "psst again")))
	if got := vm.Unread("c2"); got != 2 {
		t.Fatalf("unread badge: got %d, want 2", got)
	}
	if got := len(vm.Messages()); got != 0 {
		t.Fatalf("foreign message leaked into current view: %d", got)
	}
	// Own message echoed into a background conversation must not bump.
	vm.ApplyNewMessage(echoEvent("c2", "", msg("m3", "c2", "u1", "my own")))
	if got := vm.Unread("c2"); got != 2 {
		t.Fatalf("own echo bumped unread: got %d", got)
	}
}

func TestApplyMessageError_RollsBackOptimisticEntry(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	var gotErr error
	var errMu sync.Mutex
	vm := New(em, h, "u1", WithErrorHandler(func(err error) {
		errMu.Lock()
		gotErr = err
		errMu.Unlock()
	}))
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	sent, err := vm.Send("blocked content")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	vm.ApplyMessageError(realtime.MessageErrorEvent{
		Envelope: realtime.Envelope{Type: realtime.TypeMessageError, ConversationID: "c1", CorrelationID: sent.CorrelationID},
		Code:     "blocked",
		Message:  "recipient has blocked you",
	})

	if got := len(vm.Messages()); got != 0 {
		t.Fatalf("rejected message must be removed, got %d entries", got)
	}
	errMu.Lock()
	defer errMu.Unlock()
	if gotErr == nil {
		t.Fatalf("error handler must fire")
	}
}

func TestSelect_StaleHistoryNeverCommits(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	h.pages["cA"] = []model.Message{msg("a1", "cA", "u2", "old world")}
	h.pages["cB"] = []model.Message{msg("b1", "cB", "u3", "new world")}
	release := make(chan struct{})
	h.blockers["cA"] = release

	vm := New(em, h, "u1")
	defer vm.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = vm.Select(context.Background(), "cA", "u2")
	}()

	// Wait until the first selection is in flight, then move on.
	deadline := time.After(2 * time.Second)
	for vm.Current() != "cA" {
		select {
		case <-deadline:
			t.Fatal("first selection never started")
		case <-time.After(time.Millisecond):
		}
	}
	if err := vm.Select(context.Background(), "cB", "u3"); err != nil {
		t.Fatalf("Select cB: %v", err)
	}
	close(release)
	<-done

	msgs := vm.Messages()
	if len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Fatalf("stale history overwrote the current view: %+v", msgs)
	}
}

func TestSelect_InvalidatesPendingSends(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	vm := New(em, h, "u1", WithEchoWait(30*time.Millisecond))
	defer vm.Close()
	if err := vm.Select(context.Background(), "cA", "u2"); err != nil {
		t.Fatalf("Select cA: %v", err)
	}
	sent, err := vm.Send("left behind")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := vm.Select(context.Background(), "cB", "u3"); err != nil {
		t.Fatalf("Select cB: %v", err)
	}

	// The late echo for the abandoned conversation must not touch cB's view.
	vm.ApplyNewMessage(echoEvent("cA", sent.CorrelationID, msg("srv-1", "cA", "u1", "left behind")))
	if got := len(vm.Messages()); got != 0 {
		t.Fatalf("late echo leaked into new conversation: %d entries", got)
	}
	// And the expiry timer from the old epoch must stay silent.
	time.Sleep(80 * time.Millisecond)
	for _, m := range vm.Messages() {
		if m.Status == model.MessageFailed {
			t.Fatalf("stale echo timer fired into the new conversation")
		}
	}
}

func TestEchoTimeout_MarksFailedAndRetryRecovers(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	var handlerErrs []error
	var errMu sync.Mutex
	vm := New(em, h, "u1",
		WithEchoWait(20*time.Millisecond),
		WithErrorHandler(func(err error) {
			errMu.Lock()
			handlerErrs = append(handlerErrs, err)
			errMu.Unlock()
		}),
	)
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	sent, err := vm.Send("into the void")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		msgs := vm.Messages()
		if len(msgs) == 1 && msgs[0].Status == model.MessageFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("message never marked failed: %+v", msgs)
		case <-time.After(5 * time.Millisecond):
		}
	}
	errMu.Lock()
	if len(handlerErrs) != 1 || !errors.Is(handlerErrs[0], errs.ErrEchoTimeout) {
		errMu.Unlock()
		t.Fatalf("error handler: %v", handlerErrs)
	}
	errMu.Unlock()

	newCorr, err := vm.Retry(sent.CorrelationID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if newCorr == sent.CorrelationID {
		t.Fatalf("retry must use a fresh correlation id")
	}
	sends := em.ops("send")
	if len(sends) != 2 || sends[1].correlationID != newCorr {
		t.Fatalf("send events: %+v", sends)
	}

	vm.ApplyNewMessage(echoEvent("c1", newCorr, msg("srv-1", "c1", "u1", "into the void")))
	msgs := vm.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].Status != model.MessageSent {
		t.Fatalf("retry echo: %+v", msgs)
	}
}

func TestSend_EmitFailureRollsBack(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{sendErr: errors.New("socket gone")}
	h := newFakeHistory()
	vm := New(em, h, "u1")
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := vm.Send("doomed"); err == nil {
		t.Fatalf("want emit error")
	}
	if got := len(vm.Messages()); got != 0 {
		t.Fatalf("failed emit must roll back the optimistic entry: %d", got)
	}
}

func TestKeystroke_TypingEdgesOnly(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	vm := New(em, h, "u1", WithTypingIdle(40*time.Millisecond))
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	for i := 0; i < 10; i++ {
		vm.Keystroke()
		time.Sleep(2 * time.Millisecond)
	}
	if got := em.ops("typing_start"); len(got) != 1 {
		t.Fatalf("typing_start events: got %d, want 1", len(got))
	}

	deadline := time.After(2 * time.Second)
	for len(em.ops("typing_stop")) == 0 {
		select {
		case <-deadline:
			t.Fatal("typing_stop never fired after idle window")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := em.ops("typing_stop"); len(got) != 1 {
		t.Fatalf("typing_stop events: got %d, want 1", len(got))
	}

	// A second burst is a fresh edge.
	vm.Keystroke()
	if got := em.ops("typing_start"); len(got) != 2 {
		t.Fatalf("second edge: got %d typing_start", len(got))
	}
}

func TestSend_ImpliesTypingStop(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	vm := New(em, h, "u1", WithTypingIdle(10*time.Second))
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	vm.Keystroke()
	if _, err := vm.Send("done typing"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := em.ops("typing_stop"); len(got) != 1 {
		t.Fatalf("send must emit the pending typing_stop: got %d", len(got))
	}
	// The idle timer must not fire a second stop afterwards.
	time.Sleep(30 * time.Millisecond)
	if got := em.ops("typing_stop"); len(got) != 1 {
		t.Fatalf("duplicate typing_stop after send: got %d", len(got))
	}
}

func TestApplyTyping_OnlyCurrentConversation(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	vm := New(em, h, "u1")
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	typing := func(conv, user string) realtime.TypingEvent {
		return realtime.TypingEvent{
			Envelope: realtime.Envelope{ConversationID: conv},
			UserID:   user,
		}
	}
	vm.applyTyping(typing("c2", "u3"), true)
	if vm.OtherTyping() {
		t.Fatalf("foreign conversation typing must be ignored")
	}
	vm.applyTyping(typing("c1", "u1"), true)
	if vm.OtherTyping() {
		t.Fatalf("own typing echo must be ignored")
	}
	vm.applyTyping(typing("c1", "u2"), true)
	if !vm.OtherTyping() {
		t.Fatalf("other participant typing must show")
	}
	// An arriving message from them clears the indicator.
	vm.ApplyNewMessage(echoEvent("c1", "", msg("m1", "c1", "u2", "sent it")))
	if vm.OtherTyping() {
		t.Fatalf("typing indicator must clear on message arrival")
	}
}

func TestRetryLoad_AfterHistoryFailure(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	h.err = errors.New("backend down")

	vm := New(em, h, "u1")
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err == nil {
		t.Fatalf("want history error")
	}
	if vm.LoadError() == nil {
		t.Fatalf("load error must be retained for the retry affordance")
	}

	h.mu.Lock()
	h.err = nil
	h.pages["c1"] = []model.Message{msg("m1", "c1", "u2", "back online")}
	h.mu.Unlock()

	if err := vm.RetryLoad(context.Background()); err != nil {
		t.Fatalf("RetryLoad: %v", err)
	}
	if vm.LoadError() != nil {
		t.Fatalf("load error must clear on success")
	}
	if got := len(vm.Messages()); got != 1 {
		t.Fatalf("messages after retry: got %d", got)
	}
}

func TestSyncUnread_SkipsCurrentConversation(t *testing.T) {
	t.Parallel()
	em := &fakeEmitter{}
	h := newFakeHistory()
	vm := New(em, h, "u1")
	defer vm.Close()
	if err := vm.Select(context.Background(), "c1", "u2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	vm.SyncUnread([]model.Conversation{
		{ID: "c1", Unread: map[string]int{"u1": 9}},
		{ID: "c2", Unread: map[string]int{"u1": 3}},
	})
	if got := vm.Unread("c1"); got != 0 {
		t.Fatalf("current conversation's optimistic zero must stand, got %d", got)
	}
	if got := vm.Unread("c2"); got != 3 {
		t.Fatalf("background conversation: got %d", got)
	}
}
