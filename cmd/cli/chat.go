package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sangamlink/client-go/internal/chat"
	"github.com/sangamlink/client-go/internal/model"
	"github.com/sangamlink/client-go/internal/realtime"
	"github.com/sangamlink/client-go/internal/session"
)

// runChat opens the realtime channel and drives an interactive conversation
// until /quit or an interrupt.
func runChat(a *app, conversationID, receiverID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := realtime.New(a.cfg.WSURL, a.session.AccessToken,
		realtime.WithLogger(a.log),
		realtime.WithKeepalive(a.cfg.PingInterval, a.cfg.WriteTimeout, a.cfg.ReadTimeout),
	)
	defer ch.Close()

	// Re-dial with the fresh token whenever the session rotates it; tear
	// down when the session ends.
	unsubscribe := a.session.Subscribe(func(ev session.Event) {
		switch ev.Type {
		case session.EventTokenRefreshed:
			ch.Redial()
		case session.EventLoggedOut, session.EventSessionExpired:
			ch.Close()
		}
	})
	defer unsubscribe()

	dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
	err := ch.Connect(dialCtx)
	dialCancel()
	if err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}

	vm := chat.New(ch, a.client, a.session.UserID(),
		chat.WithLogger(a.log),
		chat.WithErrorHandler(func(err error) {
			fmt.Fprintf(os.Stderr, "\n! %v\n> ", err)
		}),
	)
	defer vm.Close()
	detach := vm.Bind(ch)
	defer detach()

	done := ctx.Done()
	printed := 0
	render := func() {
		msgs := vm.Messages()
		if printed > len(msgs) {
			// A rollback removed entries we already printed.
			printed = len(msgs)
		}
		for _, m := range msgs[printed:] {
			who := "them"
			if m.SenderID == a.session.UserID() {
				who = "you"
			}
			marker := ""
			switch m.Status {
			case model.MessageSending:
				marker = " …"
			case model.MessageFailed:
				marker = " [failed, /retry to resend]"
			}
			fmt.Printf("\n[%s] %s%s\n> ", who, m.Content, marker)
		}
		printed = len(msgs)
	}

	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	err = vm.Select(loadCtx, conversationID, receiverID)
	loadCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "history load failed (%v); continuing live\n", err)
	}
	render()

	// Poll for rendering; good enough for a line-oriented terminal UI.
	go func() {
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()
		wasTyping := false
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				render()
				if t := vm.OtherTyping(); t != wasTyping {
					if t {
						fmt.Print("\n[them] typing…\n> ")
					}
					wasTyping = t
				}
			}
		}
	}()

	fmt.Println("Type a message and press Enter to send. /retry resends the last failed message, /quit exits.")
	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-done:
			fmt.Println("\nbye")
			return nil
		default:
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			fmt.Print("> ")
			continue
		}
		if input == "/quit" {
			fmt.Println("bye")
			return nil
		}
		if input == "/retry" {
			retryLastFailed(vm)
			fmt.Print("> ")
			continue
		}
		vm.Keystroke()
		if _, err := vm.Send(input); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
		fmt.Print("> ")
	}
}

func retryLastFailed(vm *chat.ViewModel) {
	msgs := vm.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == model.MessageFailed {
			if _, err := vm.Retry(msgs[i].CorrelationID); err != nil {
				fmt.Fprintf(os.Stderr, "retry failed: %v\n", err)
			}
			return
		}
	}
	fmt.Fprintln(os.Stderr, "nothing to retry")
}
