// Package notify delivers re-authentication and sync-completion alerts.
// Delivery is best-effort: the sync engine counts failures but never lets
// them change a sync outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
)

type PushSender interface {
	Send(ctx context.Context, userID, title, body string) error
}

type EmailSender interface {
	Send(ctx context.Context, userID, subject, body string) error
}

type Notifier struct {
	push  PushSender
	email EmailSender
}

// New wires the configured senders. A nil sender degrades to a simulated
// one that logs and succeeds, so unconfigured environments still run.
func New(push PushSender, email EmailSender) *Notifier {
	if push == nil {
		push = simulatedPush{}
	}
	if email == nil {
		email = simulatedEmail{}
	}
	return &Notifier{push: push, email: email}
}

func (n *Notifier) SendReAuthRequired(ctx context.Context, userID, accountName string) error {
	title := "Account needs re-linking"
	body := fmt.Sprintf("We could not refresh %s because its connection expired. Open the app to re-link it.", accountName)
	return n.deliver(ctx, userID, title, body)
}

func (n *Notifier) SendSyncCompleted(ctx context.Context, userID, accountName string, count int) error {
	title := "New transactions imported"
	body := fmt.Sprintf("%d new transactions were imported from %s.", count, accountName)
	return n.deliver(ctx, userID, title, body)
}

func (n *Notifier) deliver(ctx context.Context, userID, title, body string) error {
	pushErr := n.push.Send(ctx, userID, title, body)
	emailErr := n.email.Send(ctx, userID, title, body)
	if pushErr != nil {
		log.Printf("push notification failed for user %s: %v", userID, pushErr)
	}
	if emailErr != nil {
		log.Printf("email notification failed for user %s: %v", userID, emailErr)
	}
	return errors.Join(pushErr, emailErr)
}

type simulatedPush struct{}

func (simulatedPush) Send(_ context.Context, userID, title, _ string) error {
	log.Printf("push (simulated) to user %s: %s", userID, title)
	return nil
}

type simulatedEmail struct{}

func (simulatedEmail) Send(_ context.Context, userID, subject, _ string) error {
	log.Printf("email (simulated) to user %s: %s", userID, subject)
	return nil
}
