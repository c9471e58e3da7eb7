// Package billing implements the hosted-checkout flow: a full-page form
// POST redirect to the payment processor, then polling the backend's verify
// endpoint until a terminal status.
package billing

import (
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/sangamlink/client-go/internal/model"
)

// Verifier is the slice of the request layer that answers verify polls.
type Verifier interface {
	VerifyPayment(ctx context.Context, orderID string) (model.PaymentVerification, error)
}

var redirectTmpl = template.Must(template.New("redirect").Parse(`<!doctype html>
<html>
<body onload="document.forms[0].submit()">
<form method="POST" action="{{.URL}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{- end}}
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

type redirectField struct{ Name, Value string }

// FormRedirect renders the auto-submitting form POST document that hands the
// browser off to the processor. The field payload is opaque to the client
// and passed through untouched (escaping aside).
func FormRedirect(cs model.CheckoutSession) (string, error) {
	fields := make([]redirectField, 0, len(cs.Fields))
	for name, value := range cs.Fields {
		fields = append(fields, redirectField{Name: name, Value: value})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	var b strings.Builder
	err := redirectTmpl.Execute(&b, struct {
		URL    string
		Fields []redirectField
	}{URL: cs.URL, Fields: fields})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Poller polls the backend verify endpoint.
type Poller struct {
	verifier Verifier
	log      *zap.Logger
	interval time.Duration
	maxPolls uint64
}

// PollOption configures a Poller.
type PollOption func(*Poller)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) PollOption {
	return func(p *Poller) { p.log = log }
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) PollOption {
	return func(p *Poller) { p.interval = d }
}

// WithMaxPolls caps the number of verify calls.
func WithMaxPolls(n uint64) PollOption {
	return func(p *Poller) { p.maxPolls = n }
}

// NewPoller creates a verify poller.
func NewPoller(v Verifier, opts ...PollOption) *Poller {
	p := &Poller{
		verifier: v,
		log:      zap.NewNop(),
		interval: 3 * time.Second,
		maxPolls: 40,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// VerifyUntilTerminal polls until the order reaches succeeded, failed, or
// cancelled, or the context/poll budget runs out.
func (p *Poller) VerifyUntilTerminal(ctx context.Context, orderID string) (model.PaymentVerification, error) {
	var result model.PaymentVerification
	backoff := retry.WithMaxRetries(p.maxPolls, retry.NewConstant(p.interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := p.verifier.VerifyPayment(ctx, orderID)
		if err != nil {
			// Transient verify failures keep polling; the order may still
			// settle.
			p.log.Warn("verify poll failed", zap.String("orderId", orderID), zap.Error(err))
			return retry.RetryableError(err)
		}
		if !v.Terminal() {
			return retry.RetryableError(fmt.Errorf("order %s still %s", orderID, v.Status))
		}
		result = v
		return nil
	})
	if err != nil {
		return model.PaymentVerification{}, err
	}
	p.log.Info("payment verified",
		zap.String("orderId", result.OrderID),
		zap.String("status", result.Status),
	)
	return result, nil
}
