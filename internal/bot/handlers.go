package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zimbwa03/nerdx-bot/internal/ai"
	"github.com/Zimbwa03/nerdx-bot/internal/catalog"
	"github.com/Zimbwa03/nerdx-bot/internal/history"
	"github.com/Zimbwa03/nerdx-bot/internal/outbound"
	"github.com/Zimbwa03/nerdx-bot/internal/profile"
	"github.com/Zimbwa03/nerdx-bot/internal/session"
)

const examQuestionCount = 3
const maxLinkAttempts = 3

// ---- onboarding ----

func (d *Dispatcher) handleGreeting(ctx context.Context, in Inbound) error {
	p, err := d.cfg.Profiles.Get(ctx, in.From)
	if err == profile.ErrNotFound {
		return d.startOnboarding(ctx, in)
	}
	if err != nil {
		return err
	}
	d.send(ctx, in.From, fmt.Sprintf("Hi %s! %s", p.Name, d.cfg.Catalog.Texts.Menu))
	return nil
}

func (d *Dispatcher) handleMenu(ctx context.Context, in Inbound) error {
	if _, err := d.cfg.Profiles.Get(ctx, in.From); err == profile.ErrNotFound {
		return d.startOnboarding(ctx, in)
	} else if err != nil {
		return err
	}
	d.sendMessage(ctx, outbound.Message{
		To:   in.From,
		Text: d.cfg.Catalog.Texts.Menu,
		Buttons: []outbound.Button{
			{ID: "btn_question", Title: "Ask a question"},
			{ID: "btn_balance", Title: "My credits"},
			{ID: "btn_help", Title: "Help"},
		},
	})
	return nil
}

func (d *Dispatcher) startOnboarding(ctx context.Context, in Inbound) error {
	sess := session.New(in.From, session.VariantAwaitingConsent)
	if err := d.cfg.Sessions.Set(ctx, sess); err != nil {
		return err
	}
	d.sendMessage(ctx, outbound.Message{
		To:   in.From,
		Text: d.cfg.Catalog.Texts.Welcome + "\n\n" + d.cfg.Catalog.Texts.Consent,
		Buttons: []outbound.Button{
			{ID: "btn_yes", Title: "I accept"},
			{ID: "btn_no", Title: "Not now"},
		},
	})
	return nil
}

func (d *Dispatcher) handleConsent(ctx context.Context, in Inbound) error {
	switch strings.ToLower(in.Input()) {
	case "yes", "btn_yes", "accept", "i accept":
		sess := session.New(in.From, session.VariantRegistrationStep)
		sess.Registration = &session.RegistrationState{Step: 0}
		if err := d.cfg.Sessions.Set(ctx, sess); err != nil {
			return err
		}
		d.send(ctx, in.From, "Great! What is your first name?")
	case "no", "btn_no", "not now":
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, "No problem. Say HI whenever you are ready.")
	default:
		d.send(ctx, in.From, "Please reply YES to accept or NO to decline.")
	}
	return nil
}

func (d *Dispatcher) handleRegistrationStep(ctx context.Context, sess *session.Session, in Inbound) error {
	input := in.Input()
	if strings.EqualFold(input, "cancel") {
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, "Registration cancelled. Say HI to start again.")
		return nil
	}
	if input == "" {
		d.send(ctx, in.From, "Please type your answer.")
		return nil
	}

	reg := sess.Registration
	switch reg.Step {
	case 0:
		reg.Name = input
		reg.Step = 1
		d.send(ctx, in.From, "And your surname?")
	case 1:
		reg.Surname = input
		reg.Step = 2
		d.send(ctx, in.From, "Your date of birth? (e.g. 2007-03-14)")
	case 2:
		reg.DateOfBirth = input
		return d.finishRegistration(ctx, sess, in)
	default:
		return fmt.Errorf("registration step out of range: %d", reg.Step)
	}
	_, err := d.cfg.Sessions.Update(ctx, in.From, func(s *session.Session) error {
		s.Variant = session.VariantRegistrationStep
		s.Registration = reg
		return nil
	})
	return err
}

func (d *Dispatcher) finishRegistration(ctx context.Context, sess *session.Session, in Inbound) error {
	reg := sess.Registration
	if err := d.cfg.Profiles.Upsert(ctx, &profile.Profile{
		UserID:      in.From,
		Name:        reg.Name,
		Surname:     reg.Surname,
		DateOfBirth: reg.DateOfBirth,
	}); err != nil {
		return err
	}
	if err := d.cfg.Ledger.CreateAccount(ctx, in.From, welcomeCredits); err != nil {
		return err
	}
	if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
		return err
	}
	d.send(ctx, in.From, fmt.Sprintf(
		"Welcome aboard, %s! You start with %d free credits.\n\n%s",
		reg.Name, welcomeCredits, d.cfg.Catalog.Texts.Menu))
	return nil
}

// ---- account linking ----

func (d *Dispatcher) handleLinkStart(ctx context.Context, in Inbound, email string) error {
	code := strings.ToUpper(uuid.NewString()[:6])
	sess := session.New(in.From, session.VariantAccountLinking)
	sess.Linking = &session.LinkingState{Code: code}
	if err := d.cfg.Sessions.Set(ctx, sess); err != nil {
		return err
	}
	// the code travels out of band to the linked address
	d.logger.Printf("[link] verification code issued user=%s email=%s", in.From, email)
	d.send(ctx, in.From, fmt.Sprintf("We sent a verification code to %s. Reply with the code to finish linking.", email))
	return nil
}

func (d *Dispatcher) handleLinking(ctx context.Context, sess *session.Session, in Inbound) error {
	input := strings.ToUpper(strings.TrimSpace(in.Input()))
	if strings.EqualFold(input, "CANCEL") {
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, "Linking cancelled.")
		return nil
	}
	if input == sess.Linking.Code {
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, "Account linked. Your progress now syncs across devices.")
		return nil
	}

	updated, err := d.cfg.Sessions.Update(ctx, in.From, func(s *session.Session) error {
		if s.Linking == nil {
			return session.ErrNotFound
		}
		s.Linking.Attempts++
		return nil
	})
	if err != nil {
		return err
	}
	if updated.Linking.Attempts >= maxLinkAttempts {
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, "Too many wrong codes. Start again with: link you@example.com")
		return nil
	}
	d.send(ctx, in.From, fmt.Sprintf("That code does not match. %d attempts left.", maxLinkAttempts-updated.Linking.Attempts))
	return nil
}

// ---- questions ----

func (d *Dispatcher) handleAskQuestion(ctx context.Context, in Inbound, topic string) error {
	if _, err := d.cfg.Profiles.Get(ctx, in.From); err == profile.ErrNotFound {
		return d.startOnboarding(ctx, in)
	} else if err != nil {
		return err
	}
	topic, ok := d.cfg.Catalog.Canonical(topic)
	if !ok {
		d.send(ctx, in.From, "I do not know that topic yet. Reply MENU to see the subjects on offer.")
		return nil
	}

	limited, err := d.cfg.Limiter.CheckAndMark(ctx, in.From, actionQuestion, d.cfg.QuestionCooldown)
	if err != nil {
		return err
	}
	if limited {
		remaining, err := d.cfg.Limiter.RemainingCooldown(ctx, in.From, actionQuestion)
		if err != nil {
			return err
		}
		d.send(ctx, in.From, fmt.Sprintf("Easy there! You can ask again in %d seconds.", int(remaining.Seconds())+1))
		return nil
	}

	// exactly one generation in flight per user
	active, err := d.cfg.Limiter.CheckActive(ctx, in.From, actionQuestion)
	if err != nil {
		return err
	}
	if active {
		d.send(ctx, in.From, "Hang on, I am still working on your previous question.")
		return nil
	}
	defer func() {
		if err := d.cfg.Limiter.ClearActive(ctx, in.From, actionQuestion); err != nil {
			d.logger.Printf("[question] clear active flag failed user=%s err=%v", in.From, err)
		}
	}()

	working := session.New(in.From, session.VariantGenerationInProgress)
	working.Generation = &session.GenerationState{ActionKey: actionQuestion, StartedAt: time.Now().UTC()}
	if err := d.cfg.Sessions.Set(ctx, working); err != nil {
		return err
	}

	var served catalog.Question
	op := func(ctx context.Context) error {
		q, err := d.selectQuestion(ctx, in.From, topic)
		if err != nil {
			return err
		}
		if err := d.cfg.Sender.Send(ctx, outbound.Message{To: in.From, Text: q.Text}); err != nil {
			return err
		}
		served = q
		return nil
	}

	if err := d.cfg.Ledger.ReserveAndExecute(ctx, in.From, actionQuestion, op); err != nil {
		// the user paid nothing, so the cooldown should not bite either
		if rerr := d.cfg.Limiter.Reset(ctx, in.From, actionQuestion); rerr != nil {
			d.logger.Printf("[question] cooldown reset failed user=%s err=%v", in.From, rerr)
		}
		if cerr := d.cfg.Sessions.Clear(ctx, in.From); cerr != nil {
			d.logger.Printf("[question] session clear failed user=%s err=%v", in.From, cerr)
		}
		return err
	}
	d.cfg.Metrics.RecordCharge(actionQuestion)

	if err := d.cfg.Selector.Record(ctx, in.From, served.Text, topic); err != nil {
		d.logger.Printf("[question] history record failed user=%s err=%v", in.From, err)
	}
	answered := session.New(in.From, session.VariantActiveQuestion)
	answered.Question = &session.QuestionState{
		Topic:       topic,
		ContentHash: history.Hash(served.Text),
		Text:        served.Text,
		Answer:      served.Answer,
	}
	return d.cfg.Sessions.Set(ctx, answered)
}

// selectQuestion produces the next question for a topic: generated content
// when the AI collaborator is configured, otherwise the catalog bank, with
// anti-repetition applied in both paths.
func (d *Dispatcher) selectQuestion(ctx context.Context, userID, topic string) (catalog.Question, error) {
	bank := d.cfg.Catalog.Candidates(topic)

	if d.cfg.AI != nil {
		result, err := d.cfg.AI.Generate(ctx, ai.Request{Topic: topic, Difficulty: "medium"})
		if err == nil {
			recent, herr := d.cfg.Selector.IsRecent(ctx, userID, history.Hash(result.Text))
			if herr != nil {
				return catalog.Question{}, herr
			}
			if !recent || len(bank) == 0 {
				return catalog.Question{Text: result.Text, Answer: result.Answer}, nil
			}
			// generated a repeat; fall back to the bank below
		} else if len(bank) == 0 {
			return catalog.Question{}, err
		}
	}

	if len(bank) > 0 {
		texts := make([]string, len(bank))
		byText := make(map[string]catalog.Question, len(bank))
		for i, q := range bank {
			texts[i] = q.Text
			byText[q.Text] = q
		}
		picked, err := d.cfg.Selector.SelectUnseen(ctx, userID, texts)
		if err != nil {
			return catalog.Question{}, err
		}
		return byText[picked], nil
	}

	if q, ok := d.cfg.Catalog.Fallback(topic); ok {
		return q, nil
	}
	return catalog.Question{}, fmt.Errorf("no content available for topic %q", topic)
}

func (d *Dispatcher) handleAnswer(ctx context.Context, sess *session.Session, in Inbound) error {
	q := sess.Question
	if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
		return err
	}
	if gradeAnswer(in.Input(), q.Answer) {
		d.send(ctx, in.From, "Correct! Nice work. Reply ASK "+q.Topic+" for another one.")
		return nil
	}
	reply := fmt.Sprintf("Not quite. The answer was: %s", q.Answer)
	if q.Answer == "" {
		reply = "Thanks! Compare your working with your notes and try another one."
	}
	d.send(ctx, in.From, reply)
	return nil
}

func gradeAnswer(given, expected string) bool {
	if expected == "" {
		return false
	}
	normalize := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
	}
	return normalize(given) == normalize(expected)
}

// ---- exams ----

func (d *Dispatcher) handleExamStart(ctx context.Context, in Inbound, subject string) error {
	if _, err := d.cfg.Profiles.Get(ctx, in.From); err == profile.ErrNotFound {
		return d.startOnboarding(ctx, in)
	} else if err != nil {
		return err
	}
	topics, ok := d.cfg.Catalog.TopicsFor(subject)
	if !ok {
		d.send(ctx, in.From, "I do not know that subject. Reply MENU to see the subjects on offer.")
		return nil
	}

	limited, err := d.cfg.Limiter.CheckAndMark(ctx, in.From, actionExam, d.cfg.ExamCooldown)
	if err != nil {
		return err
	}
	if limited {
		remaining, err := d.cfg.Limiter.RemainingCooldown(ctx, in.From, actionExam)
		if err != nil {
			return err
		}
		d.send(ctx, in.From, fmt.Sprintf("You finished an exam recently. Next one in %d minutes.", int(remaining.Minutes())+1))
		return nil
	}

	var first *session.QuestionState
	op := func(ctx context.Context) error {
		q, err := d.selectQuestion(ctx, in.From, topics[0])
		if err != nil {
			return err
		}
		if err := d.cfg.Sender.Send(ctx, outbound.Message{
			To:   in.From,
			Text: fmt.Sprintf("Exam started: %s, %d questions.\n\nQ1: %s", subject, examQuestionCount, q.Text),
		}); err != nil {
			return err
		}
		first = &session.QuestionState{
			Topic:       topics[0],
			ContentHash: history.Hash(q.Text),
			Text:        q.Text,
			Answer:      q.Answer,
		}
		return nil
	}

	if err := d.cfg.Ledger.ReserveAndExecute(ctx, in.From, actionExam, op); err != nil {
		if rerr := d.cfg.Limiter.Reset(ctx, in.From, actionExam); rerr != nil {
			d.logger.Printf("[exam] cooldown reset failed user=%s err=%v", in.From, rerr)
		}
		return err
	}
	d.cfg.Metrics.RecordCharge(actionExam)

	if err := d.cfg.Selector.Record(ctx, in.From, first.Text, first.Topic); err != nil {
		d.logger.Printf("[exam] history record failed user=%s err=%v", in.From, err)
	}
	sess := session.New(in.From, session.VariantExamInProgress)
	sess.Exam = &session.ExamState{
		Subject:  subject,
		Index:    0,
		Total:    examQuestionCount,
		Question: first,
	}
	return d.cfg.Sessions.Set(ctx, sess)
}

func (d *Dispatcher) handleExamAnswer(ctx context.Context, sess *session.Session, in Inbound) error {
	exam := sess.Exam
	if strings.EqualFold(in.Input(), "cancel") {
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, fmt.Sprintf("Exam abandoned at question %d of %d.", exam.Index+1, exam.Total))
		return nil
	}

	previousAnswer := exam.Question.Answer
	correct := gradeAnswer(in.Input(), previousAnswer)
	if correct {
		exam.Correct++
	}
	exam.Index++

	if exam.Index >= exam.Total {
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, fmt.Sprintf("Exam finished! You scored %d out of %d.", exam.Correct, exam.Total))
		return nil
	}

	topics, ok := d.cfg.Catalog.TopicsFor(exam.Subject)
	if !ok || len(topics) == 0 {
		return fmt.Errorf("exam subject %q vanished from the catalog", exam.Subject)
	}
	topic := topics[exam.Index%len(topics)]
	q, err := d.selectQuestion(ctx, in.From, topic)
	if err != nil {
		return err
	}
	if err := d.cfg.Selector.Record(ctx, in.From, q.Text, topic); err != nil {
		d.logger.Printf("[exam] history record failed user=%s err=%v", in.From, err)
	}
	exam.Question = &session.QuestionState{
		Topic:       topic,
		ContentHash: history.Hash(q.Text),
		Text:        q.Text,
		Answer:      q.Answer,
	}
	if _, err := d.cfg.Sessions.Update(ctx, in.From, func(s *session.Session) error {
		s.Variant = session.VariantExamInProgress
		s.Exam = exam
		return nil
	}); err != nil {
		return err
	}

	verdict := "Correct!"
	if !correct {
		if previousAnswer == "" {
			previousAnswer = "(no model answer)"
		}
		verdict = fmt.Sprintf("Not quite, it was: %s.", previousAnswer)
	}
	d.send(ctx, in.From, fmt.Sprintf("%s\n\nQ%d: %s", verdict, exam.Index+1, q.Text))
	return nil
}

// ---- balance, payments, audio ----

func (d *Dispatcher) handleBalance(ctx context.Context, in Inbound) error {
	balance, err := d.cfg.Ledger.GetBalance(ctx, in.From)
	if err != nil {
		return err
	}
	recent, err := d.cfg.Ledger.ListRecent(ctx, in.From, 3)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d credits.", balance)
	if len(recent) > 0 {
		b.WriteString("\nRecent activity:")
		for _, txn := range recent {
			fmt.Fprintf(&b, "\n  %+d %s (%s)", txn.Delta, txn.ActionKey, txn.Status)
		}
	}
	d.send(ctx, in.From, b.String())
	return nil
}

func (d *Dispatcher) handlePaymentStart(ctx context.Context, in Inbound) error {
	sess := session.New(in.From, session.VariantPaymentFlow)
	sess.Payment = &session.PaymentState{Step: 0}
	if err := d.cfg.Sessions.Set(ctx, sess); err != nil {
		return err
	}
	d.send(ctx, in.From, "Choose a credit package:\n1. 50 credits ($1)\n2. 120 credits ($2)\n3. 350 credits ($5)\nReply with the number, or CANCEL.")
	return nil
}

func (d *Dispatcher) handlePaymentStep(ctx context.Context, sess *session.Session, in Inbound) error {
	input := strings.TrimSpace(in.Input())
	if strings.EqualFold(input, "cancel") {
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.send(ctx, in.From, "Purchase cancelled.")
		return nil
	}

	pay := sess.Payment
	switch pay.Step {
	case 0:
		switch input {
		case "1", "2", "3":
			pay.Package = input
			pay.Step = 1
			if _, err := d.cfg.Sessions.Update(ctx, in.From, func(s *session.Session) error {
				s.Variant = session.VariantPaymentFlow
				s.Payment = pay
				return nil
			}); err != nil {
				return err
			}
			d.send(ctx, in.From, "Send the payment to *123# and reply with the confirmation reference.")
		default:
			d.send(ctx, in.From, "Please reply 1, 2 or 3, or CANCEL.")
		}
	case 1:
		pay.Reference = input
		if err := d.cfg.Sessions.Clear(ctx, in.From); err != nil {
			return err
		}
		d.logger.Printf("[payment] reference received user=%s package=%s ref=%s", in.From, pay.Package, pay.Reference)
		d.send(ctx, in.From, "Thanks! We will confirm the payment and credit your account shortly.")
	default:
		return fmt.Errorf("payment step out of range: %d", pay.Step)
	}
	return nil
}

func (d *Dispatcher) handleAudioChat(ctx context.Context, in Inbound) error {
	d.send(ctx, in.From, "Audio chat is not available yet. Reply MENU for everything else.")
	return nil
}
