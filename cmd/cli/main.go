// Command sangam is a CLI client for the Sangam matchmaking platform.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sangamlink/client-go/internal/api"
	"github.com/sangamlink/client-go/internal/billing"
	"github.com/sangamlink/client-go/internal/config"
	"github.com/sangamlink/client-go/internal/credstore"
	"github.com/sangamlink/client-go/internal/errs"
	"github.com/sangamlink/client-go/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `sangam CLI
Usage:
  sangam [-api URL] [-ws URL] <cmd> [args]

Commands:
  version
  register            -email E -password P -name N [-role member|agency]
  login               -email E -password P
  logout
  whoami
  search              [-gender G] [-min-age N] [-max-age N] [-location L] [-religion R] [-page N]
  profile             -id ID
  interests           [-direction sent|received]
  interest-send       -to USERID
  interest-accept     -id ID
  interest-decline    -id ID
  shortlist
  shortlist-add       -id PROFILEID
  shortlist-rm        -id PROFILEID
  conversations
  chat                -conversation ID -to USERID
  notifications       [-page N]
  notifications-read  -id ID
  notifications-read-all
  plans
  subscribe           -plan PLANID
  verify-payment      -order ORDERID
`)
	os.Exit(2)
}

// app bundles the wired client stack for one invocation.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	client  *api.Client
	session *session.Service
}

func newApp(apiURL, wsURL string) *app {
	cfg := config.Load()
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
	if wsURL != "" {
		cfg.WSURL = wsURL
	}

	log := zap.NewNop()
	if cfg.LogLevel == "debug" {
		log, _ = zap.NewDevelopment()
	}

	client := api.New(cfg.APIBaseURL,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(log),
	)
	storeOpts := []credstore.Option{}
	if cfg.CredPassphrase != "" {
		storeOpts = append(storeOpts, credstore.WithPassphrase(cfg.CredPassphrase))
	}
	store := credstore.Open(cfg.CredPath, storeOpts...)
	sess := session.New(client, store, session.WithLogger(log))
	client.SetTokenSource(sess)
	sess.SetSessionExpiredHandler(func() {
		fmt.Fprintln(os.Stderr, "session expired; run `sangam login`")
	})
	return &app{cfg: cfg, log: log, client: client, session: sess}
}

// requireSession rehydrates from the credential store and fails with a login
// hint when no usable session exists.
func (a *app) requireSession(ctx context.Context) {
	if err := a.session.Hydrate(ctx); err != nil {
		if errors.Is(err, errs.ErrNoCredentials) {
			fail(errors.New("not logged in (run `sangam login`)"))
		}
		fail(err)
	}
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	var apiErr *errs.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "error: %s\n", apiErr.Message)
		for _, f := range apiErr.Fields {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", f.Field, f.Message)
		}
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func main() {
	apiURL := flag.String("api", "", "REST API base URL (overrides SANGAM_API_URL)")
	wsURL := flag.String("ws", "", "WebSocket URL (overrides SANGAM_WS_URL)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("sangam %s (%s)\n", version, buildDate)
		return
	}

	a := newApp(*apiURL, *wsURL)
	ctx, cancel := withTimeout()
	defer cancel()

	switch cmd {

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password")
		name := fs.String("name", "", "display name")
		role := fs.String("role", "member", "member or agency")
		_ = fs.Parse(args)
		if *email == "" || *password == "" {
			fail(errors.New("need -email and -password"))
		}
		u, err := a.session.Register(ctx, api.RegisterRequest{
			Email: *email, Password: *password, Name: *name, Role: *role,
		})
		if err != nil {
			fail(err)
		}
		printJSON(u)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password")
		_ = fs.Parse(args)
		if *email == "" || *password == "" {
			fail(errors.New("need -email and -password"))
		}
		u, err := a.session.Login(ctx, *email, *password)
		if err != nil {
			fail(err)
		}
		fmt.Printf("logged in as %s\n", u.Email)

	case "logout":
		a.requireSession(ctx)
		a.session.Logout(ctx)
		fmt.Println("ok")

	case "whoami":
		a.requireSession(ctx)
		printJSON(a.session.CurrentUser())

	case "search":
		fs := flag.NewFlagSet("search", flag.ExitOnError)
		gender := fs.String("gender", "", "gender")
		minAge := fs.Int("min-age", 0, "min age")
		maxAge := fs.Int("max-age", 0, "max age")
		location := fs.String("location", "", "location")
		religion := fs.String("religion", "", "religion")
		page := fs.Int("page", 1, "page")
		_ = fs.Parse(args)
		a.requireSession(ctx)
		res, err := a.client.SearchProfiles(ctx, api.SearchQuery{
			Gender: *gender, MinAge: *minAge, MaxAge: *maxAge,
			Location: *location, Religion: *religion, Page: *page,
		})
		if err != nil {
			fail(err)
		}
		printJSON(res)

	case "profile":
		fs := flag.NewFlagSet("profile", flag.ExitOnError)
		id := fs.String("id", "", "profile id")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}
		a.requireSession(ctx)
		p, err := a.client.Profile(ctx, *id)
		if err != nil {
			fail(err)
		}
		printJSON(p)

	case "interests":
		fs := flag.NewFlagSet("interests", flag.ExitOnError)
		direction := fs.String("direction", "", "sent or received")
		_ = fs.Parse(args)
		a.requireSession(ctx)
		list, err := a.client.Interests(ctx, *direction)
		if err != nil {
			fail(err)
		}
		printJSON(list)

	case "interest-send":
		fs := flag.NewFlagSet("interest-send", flag.ExitOnError)
		to := fs.String("to", "", "receiver user id")
		_ = fs.Parse(args)
		if *to == "" {
			fail(errors.New("need -to"))
		}
		a.requireSession(ctx)
		in, err := a.client.SendInterest(ctx, *to)
		if err != nil {
			fail(err)
		}
		printJSON(in)

	case "interest-accept", "interest-decline":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "interest id")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}
		a.requireSession(ctx)
		var err error
		var in any
		if cmd == "interest-accept" {
			in, err = a.client.AcceptInterest(ctx, *id)
		} else {
			in, err = a.client.DeclineInterest(ctx, *id)
		}
		if err != nil {
			fail(err)
		}
		printJSON(in)

	case "shortlist":
		a.requireSession(ctx)
		list, err := a.client.Shortlist(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(list)

	case "shortlist-add", "shortlist-rm":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "profile id")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}
		a.requireSession(ctx)
		var err error
		if cmd == "shortlist-add" {
			err = a.client.AddShortlist(ctx, *id)
		} else {
			err = a.client.RemoveShortlist(ctx, *id)
		}
		if err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "conversations":
		a.requireSession(ctx)
		convs, err := a.client.Conversations(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(convs)

	case "chat":
		fs := flag.NewFlagSet("chat", flag.ExitOnError)
		conversationID := fs.String("conversation", "", "conversation id")
		to := fs.String("to", "", "other participant's user id")
		_ = fs.Parse(args)
		if *conversationID == "" || *to == "" {
			fail(errors.New("need -conversation and -to"))
		}
		a.requireSession(ctx)
		cancel()
		if err := runChat(a, *conversationID, *to); err != nil {
			fail(err)
		}

	case "notifications":
		fs := flag.NewFlagSet("notifications", flag.ExitOnError)
		page := fs.Int("page", 1, "page")
		_ = fs.Parse(args)
		a.requireSession(ctx)
		res, err := a.client.Notifications(ctx, *page, 20)
		if err != nil {
			fail(err)
		}
		printJSON(res)

	case "notifications-read":
		fs := flag.NewFlagSet("notifications-read", flag.ExitOnError)
		id := fs.String("id", "", "notification id")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}
		a.requireSession(ctx)
		unread, err := a.client.MarkNotificationRead(ctx, *id)
		if err != nil {
			fail(err)
		}
		fmt.Printf("unread: %d\n", unread)

	case "notifications-read-all":
		a.requireSession(ctx)
		if err := a.client.MarkAllNotificationsRead(ctx); err != nil {
			fail(err)
		}
		fmt.Println("unread: 0")

	case "plans":
		plans, err := a.client.Plans(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(plans)

	case "subscribe":
		fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
		plan := fs.String("plan", "", "plan id")
		_ = fs.Parse(args)
		if *plan == "" {
			fail(errors.New("need -plan"))
		}
		a.requireSession(ctx)
		cs, err := a.client.CreateCheckout(ctx, *plan)
		if err != nil {
			fail(err)
		}
		doc, err := billing.FormRedirect(cs)
		if err != nil {
			fail(err)
		}
		// The redirect document goes to stdout so it can be opened in a
		// browser; the order id goes to stderr for the verify step.
		fmt.Fprintf(os.Stderr, "order: %s\n", cs.OrderID)
		fmt.Print(doc)

	case "verify-payment":
		fs := flag.NewFlagSet("verify-payment", flag.ExitOnError)
		order := fs.String("order", "", "order id")
		_ = fs.Parse(args)
		if *order == "" {
			fail(errors.New("need -order"))
		}
		a.requireSession(ctx)
		poller := billing.NewPoller(a.client, billing.WithLogger(a.log))
		vctx, vcancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer vcancel()
		res, err := poller.VerifyUntilTerminal(vctx, *order)
		if err != nil {
			fail(err)
		}
		printJSON(res)

	default:
		usage()
	}
}
