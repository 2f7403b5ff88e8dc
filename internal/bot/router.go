package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/Zimbwa03/nerdx-bot/internal/session"
)

// route applies the precedence order for a message that could match several
// rules:
//
//  1. an in-progress account-linking flow
//  2. an in-progress session variant that claims free-text input
//  3. global commands (menu, help, greeting)
//  4. generic session-variant dispatch
//  5. best-effort free-text command parsing
//  6. top-level menu fallback
func (d *Dispatcher) route(ctx context.Context, sess *session.Session, in Inbound) error {
	input := in.Input()

	if sess != nil && sess.Variant == session.VariantAccountLinking {
		return d.handleLinking(ctx, sess, in)
	}

	if sess != nil && sess.Variant.ClaimsFreeText() {
		switch sess.Variant {
		case session.VariantRegistrationStep:
			return d.handleRegistrationStep(ctx, sess, in)
		case session.VariantActiveQuestion, session.VariantActiveStructuredQuestion:
			return d.handleAnswer(ctx, sess, in)
		case session.VariantExamInProgress:
			return d.handleExamAnswer(ctx, sess, in)
		case session.VariantPaymentFlow:
			return d.handlePaymentStep(ctx, sess, in)
		case session.VariantAudioChat:
			return d.handleAudioChat(ctx, in)
		default:
			return fmt.Errorf("variant %s claims free text but has no handler", sess.Variant)
		}
	}

	switch globalCommand(input) {
	case "menu":
		return d.handleMenu(ctx, in)
	case "help":
		d.send(ctx, in.From, d.cfg.Catalog.Texts.Help)
		return nil
	case "greeting":
		return d.handleGreeting(ctx, in)
	}

	if sess != nil {
		switch sess.Variant {
		case session.VariantAwaitingConsent:
			return d.handleConsent(ctx, in)
		case session.VariantGenerationInProgress:
			d.send(ctx, in.From, "Hang on, I am still working on your previous request.")
			return nil
		case session.VariantIdle:
			// fall through to command parsing
		default:
			return fmt.Errorf("unhandled session variant %s", sess.Variant)
		}
	}

	if handled, err := d.parseCommand(ctx, in, input); handled {
		return err
	}

	return d.handleMenu(ctx, in)
}

// globalCommand matches commands that work regardless of (non-claiming)
// session state.
func globalCommand(input string) string {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "menu", "btn_menu", "0":
		return "menu"
	case "help", "btn_help", "?":
		return "help"
	case "hi", "hello", "hey", "start", "mhoro":
		return "greeting"
	}
	return ""
}

// parseCommand is the best-effort free-text layer. It reports whether the
// input matched a command.
func (d *Dispatcher) parseCommand(ctx context.Context, in Inbound, input string) (bool, error) {
	lower := strings.ToLower(strings.TrimSpace(input))
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "balance", "btn_balance":
		return true, d.handleBalance(ctx, in)
	case "buy", "btn_buy", "topup":
		return true, d.handlePaymentStart(ctx, in)
	case "audio", "btn_audio":
		return true, d.handleAudioChat(ctx, in)
	case "btn_question":
		d.send(ctx, in.From, "Which topic? Reply like: ask Algebra")
		return true, nil
	case "ask", "question":
		if len(fields) < 2 {
			d.send(ctx, in.From, "Which topic? Reply like: ask Algebra")
			return true, nil
		}
		topic := strings.TrimSpace(input[len(fields[0]):])
		return true, d.handleAskQuestion(ctx, in, topic)
	case "exam", "btn_exam":
		if len(fields) < 2 {
			d.send(ctx, in.From, "Which subject? Reply like: exam Mathematics")
			return true, nil
		}
		subject := strings.TrimSpace(input[len(fields[0]):])
		return true, d.handleExamStart(ctx, in, subject)
	case "link":
		if len(fields) != 2 || !strings.Contains(fields[1], "@") {
			d.send(ctx, in.From, "Reply like: link you@example.com")
			return true, nil
		}
		return true, d.handleLinkStart(ctx, in, fields[1])
	case "cancel", "stop":
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return true, err
		}
		d.send(ctx, in.From, "Cancelled. Reply MENU to see what I can do.")
		return true, nil
	}
	return false, nil
}
