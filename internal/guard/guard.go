// Package guard gates navigation on session state. Guards are pure
// functions of session state plus the target route; they hold no state of
// their own.
package guard

import "github.com/sangamlink/client-go/internal/model"

// Well-known route targets.
const (
	PathLogin           = "/login"
	PathHome            = "/"
	PathAdmin           = "/admin"
	PathPendingApproval = "/agency/pending"
)

// Session is the slice of session state guards consult.
type Session interface {
	IsAuthenticated() bool
	CurrentUser() *model.User
}

// Decision is the outcome of a guard check. When Allow is false, Redirect
// names the target and Origin preserves the path the user was heading to so
// navigation can continue there after recovery.
type Decision struct {
	Allow    bool
	Redirect string
	Origin   string
}

func allow() Decision { return Decision{Allow: true} }

func redirect(to, origin string) Decision {
	return Decision{Redirect: to, Origin: origin}
}

// RequireAuth admits only authenticated sessions with a loaded user.
func RequireAuth(s Session, target string) Decision {
	if !s.IsAuthenticated() || s.CurrentUser() == nil {
		return redirect(PathLogin, target)
	}
	return allow()
}

// RequireApprovedAgency admits only approved agency accounts. A matching
// role with pending verification lands on the pending-approval page; an
// unauthenticated session lands on login.
func RequireApprovedAgency(s Session, target string) Decision {
	if d := RequireAuth(s, target); !d.Allow {
		return d
	}
	u := s.CurrentUser()
	if !u.IsAgency() {
		return redirect(PathHome, target)
	}
	if u.AgencyStatus != model.AgencyApproved {
		return redirect(PathPendingApproval, target)
	}
	return allow()
}

// RequireAdmin admits only admin or superadmin accounts.
func RequireAdmin(s Session, target string) Decision {
	if d := RequireAuth(s, target); !d.Allow {
		return d
	}
	if !s.CurrentUser().IsAdmin() {
		return redirect(PathHome, target)
	}
	return allow()
}

// RequireNonAdmin keeps admin accounts on the admin surface: an admin
// hitting a non-admin route is forced back to the admin entry point.
func RequireNonAdmin(s Session, target string) Decision {
	if d := RequireAuth(s, target); !d.Allow {
		return d
	}
	if s.CurrentUser().IsAdmin() {
		return redirect(PathAdmin, target)
	}
	return allow()
}
