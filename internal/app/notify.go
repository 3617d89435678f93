package app

import (
	"context"
	"log"
	"sync"
	"time"

	"pirhub/api/internal/email"
	"pirhub/api/internal/obs"
	"pirhub/api/internal/store"
)

type ChildKind string

const (
	ChildQuestion ChildKind = "question"
	ChildAnswer   ChildKind = "answer"
)

type TransitionEvent struct {
	PIR       store.PIR
	From      store.PIRStatus
	To        store.PIRStatus
	ActorName string
}

type ChildEvent struct {
	PIR       store.PIR
	Kind      ChildKind
	Text      string
	ActorName string
}

// EventSink receives engine events. The engine never waits on the sink and
// never observes its errors.
type EventSink interface {
	TransitionApplied(TransitionEvent)
	ChildCreated(ChildEvent)
}

type NopSink struct{}

func (NopSink) TransitionApplied(TransitionEvent) {}
func (NopSink) ChildCreated(ChildEvent)           {}

type recipientStore interface {
	GetUser(ctx context.Context, id string) (store.User, error)
	UsersByRole(ctx context.Context, role store.Role) ([]store.User, error)
}

type mailer interface {
	IsConfigured() bool
	Send(recipients []string, kind email.Kind, payload map[string]any) error
}

// Notifier is the production events sink: it resolves recipients for each
// event and hands them to the mail service in a background goroutine.
// Failures are logged and swallowed.
type Notifier struct {
	store recipientStore
	mail  mailer
	wg    sync.WaitGroup
}

func NewNotifier(data recipientStore, mail mailer) *Notifier {
	return &Notifier{store: data, mail: mail}
}

func (n *Notifier) TransitionApplied(ev TransitionEvent) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliverTransition(ev)
	}()
}

func (n *Notifier) ChildCreated(ev ChildEvent) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliverChild(ev)
	}()
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliverTransition(ev TransitionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	kind, ok := transitionKinds[ev.To]
	if !ok {
		return
	}
	recipients := n.transitionRecipients(ctx, ev)
	if len(recipients) == 0 {
		log.Printf("notification %s for pir %s skipped: no resolvable recipients", kind, ev.PIR.ID)
		return
	}

	payload := map[string]any{
		"pirTitle":    ev.PIR.Title,
		"productName": ev.PIR.ProductName,
		"status":      string(ev.To),
		"actorName":   ev.ActorName,
	}
	if ev.PIR.ReviewNotes != "" {
		payload["reviewNotes"] = ev.PIR.ReviewNotes
	}
	n.send(recipients, kind, payload)
}

func (n *Notifier) deliverChild(ev ChildEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var kind email.Kind
	var recipients []string
	payload := map[string]any{
		"pirTitle":    ev.PIR.Title,
		"productName": ev.PIR.ProductName,
		"actorName":   ev.ActorName,
	}
	switch ev.Kind {
	case ChildQuestion:
		kind = email.KindQuestionCreated
		recipients = n.emails(ctx, ev.PIR.AssignedResponderID)
		payload["questionText"] = ev.Text
	case ChildAnswer:
		kind = email.KindAnswerCreated
		recipients = n.emails(ctx, ev.PIR.RequesterID)
		payload["answerText"] = ev.Text
	default:
		return
	}
	if len(recipients) == 0 {
		log.Printf("notification %s for pir %s skipped: no resolvable recipients", kind, ev.PIR.ID)
		return
	}
	n.send(recipients, kind, payload)
}

var transitionKinds = map[store.PIRStatus]email.Kind{
	store.StatusRequested: email.KindPIRRequested,
	store.StatusSubmitted: email.KindPIRSubmitted,
	store.StatusReviewed:  email.KindPIRReviewed,
	store.StatusAccepted:  email.KindPIRAccepted,
	store.StatusRejected:  email.KindPIRRejected,
}

// transitionRecipients resolves who hears about the transition:
//   - Requested: the assigned responder plus every admin
//   - Submitted: the reviewer and the requester; nobody if no reviewer is
//     assigned yet
//   - Reviewed / Accepted / Rejected: the requester and the responder,
//     whichever of the two resolve
func (n *Notifier) transitionRecipients(ctx context.Context, ev TransitionEvent) []string {
	pir := ev.PIR
	switch ev.To {
	case store.StatusRequested:
		recipients := n.emails(ctx, pir.AssignedResponderID)
		admins, err := n.store.UsersByRole(ctx, store.RoleAdmin)
		if err != nil {
			log.Printf("notification recipient lookup failed for pir %s: %v", pir.ID, err)
		}
		for _, admin := range admins {
			if admin.Email != "" {
				recipients = append(recipients, admin.Email)
			}
		}
		return dedupe(recipients)
	case store.StatusSubmitted:
		if pir.ReviewerID == "" {
			return nil
		}
		return dedupe(n.emails(ctx, pir.ReviewerID, pir.RequesterID))
	case store.StatusReviewed, store.StatusAccepted, store.StatusRejected:
		return dedupe(n.emails(ctx, pir.RequesterID, pir.AssignedResponderID))
	}
	return nil
}

// emails resolves user ids to addresses, dropping ids that are empty, do
// not resolve, or have no address on file.
func (n *Notifier) emails(ctx context.Context, ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		user, err := n.store.GetUser(ctx, id)
		if err != nil {
			log.Printf("notification recipient %s did not resolve: %v", id, err)
			continue
		}
		if user.Email == "" {
			continue
		}
		out = append(out, user.Email)
	}
	return out
}

func (n *Notifier) send(recipients []string, kind email.Kind, payload map[string]any) {
	if !n.mail.IsConfigured() {
		log.Printf("notification %s skipped: email not configured", kind)
		return
	}
	if err := n.mail.Send(recipients, kind, payload); err != nil {
		log.Printf("notification %s failed: %v", kind, err)
		obs.ObserveNotification(string(kind), false)
		return
	}
	obs.ObserveNotification(string(kind), true)
}
