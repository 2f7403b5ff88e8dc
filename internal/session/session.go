// Package session holds the one typed conversation-state record each user
// has while a multi-step flow is in progress. The record is a tagged union:
// the Variant selects exactly one payload, so handlers cannot read fields
// belonging to a different flow.
package session

import (
	"fmt"
	"time"
)

// Variant tags the conversation state a user is in.
type Variant string

const (
	VariantIdle                     Variant = "idle"
	VariantAwaitingConsent          Variant = "awaiting_consent"
	VariantRegistrationStep         Variant = "registration_step"
	VariantAccountLinking           Variant = "account_linking"
	VariantActiveQuestion           Variant = "active_question"
	VariantActiveStructuredQuestion Variant = "active_structured_question"
	VariantPaymentFlow              Variant = "payment_flow"
	VariantAudioChat                Variant = "audio_chat"
	VariantExamInProgress           Variant = "exam_in_progress"
	VariantGenerationInProgress     Variant = "generation_in_progress"
)

// Variants lists every known variant; the dispatcher switches exhaustively
// over this set.
var Variants = []Variant{
	VariantIdle,
	VariantAwaitingConsent,
	VariantRegistrationStep,
	VariantAccountLinking,
	VariantActiveQuestion,
	VariantActiveStructuredQuestion,
	VariantPaymentFlow,
	VariantAudioChat,
	VariantExamInProgress,
	VariantGenerationInProgress,
}

// ClaimsFreeText reports whether the variant consumes free-text input, which
// gives it routing precedence over global command parsing.
func (v Variant) ClaimsFreeText() bool {
	switch v {
	case VariantRegistrationStep, VariantAccountLinking, VariantActiveQuestion,
		VariantActiveStructuredQuestion, VariantPaymentFlow, VariantAudioChat,
		VariantExamInProgress:
		return true
	}
	return false
}

// RegistrationState tracks the signup flow.
type RegistrationState struct {
	Step        int    `json:"step"`
	Name        string `json:"name,omitempty"`
	Surname     string `json:"surname,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// LinkingState tracks an identity/account-linking flow.
type LinkingState struct {
	Code     string `json:"code"`
	Attempts int    `json:"attempts"`
}

// QuestionState tracks an open question awaiting the student's answer.
type QuestionState struct {
	Subject     string `json:"subject"`
	Topic       string `json:"topic"`
	ContentHash string `json:"content_hash"`
	Text        string `json:"text"`
	Answer      string `json:"answer"`
	Difficulty  string `json:"difficulty,omitempty"`
	Points      int    `json:"points"`
}

// PaymentState tracks a credit purchase flow.
type PaymentState struct {
	Step      int    `json:"step"`
	Method    string `json:"method,omitempty"`
	Package   string `json:"package,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// ExamState tracks a timed multi-question exam.
type ExamState struct {
	Subject     string `json:"subject"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	Correct     int    `json:"correct"`
	CurrentHash string `json:"current_hash,omitempty"`
	Question    *QuestionState `json:"question,omitempty"`
}

// GenerationState marks an expensive generation in flight; while present it
// doubles as a per-user mutex for that action class.
type GenerationState struct {
	ActionKey string    `json:"action_key"`
	StartedAt time.Time `json:"started_at"`
}

// Session is the per-user conversation record. At most one exists per user.
type Session struct {
	UserID    string    `json:"user_id"`
	Variant   Variant   `json:"variant"`
	Version   int64     `json:"version"` // optimistic locking
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Registration *RegistrationState `json:"registration,omitempty"`
	Linking      *LinkingState      `json:"linking,omitempty"`
	Question     *QuestionState     `json:"question,omitempty"`
	Payment      *PaymentState      `json:"payment,omitempty"`
	Exam         *ExamState         `json:"exam,omitempty"`
	Generation   *GenerationState   `json:"generation,omitempty"`
}

// New creates a session in the given variant. Payload must be attached by the
// caller before Set; Validate catches mismatches.
func New(userID string, variant Variant) *Session {
	return &Session{UserID: userID, Variant: variant}
}

// Validate enforces the tagged-union invariant: the payload matching the
// variant is set and every other payload is nil.
func (s *Session) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("session without user id")
	}
	type slot struct {
		name string
		set  bool
		want Variant
	}
	slots := []slot{
		{"registration", s.Registration != nil, VariantRegistrationStep},
		{"linking", s.Linking != nil, VariantAccountLinking},
		{"question", s.Question != nil, ""}, // shared by both question variants
		{"payment", s.Payment != nil, VariantPaymentFlow},
		{"exam", s.Exam != nil, VariantExamInProgress},
		{"generation", s.Generation != nil, VariantGenerationInProgress},
	}
	for _, sl := range slots {
		if !sl.set {
			continue
		}
		ok := sl.want == s.Variant
		if sl.name == "question" {
			ok = s.Variant == VariantActiveQuestion || s.Variant == VariantActiveStructuredQuestion
		}
		if !ok {
			return fmt.Errorf("session variant %s carries stray %s payload", s.Variant, sl.name)
		}
	}
	switch s.Variant {
	case VariantRegistrationStep:
		if s.Registration == nil {
			return fmt.Errorf("registration_step requires registration payload")
		}
	case VariantAccountLinking:
		if s.Linking == nil {
			return fmt.Errorf("account_linking requires linking payload")
		}
	case VariantActiveQuestion, VariantActiveStructuredQuestion:
		if s.Question == nil {
			return fmt.Errorf("%s requires question payload", s.Variant)
		}
	case VariantPaymentFlow:
		if s.Payment == nil {
			return fmt.Errorf("payment_flow requires payment payload")
		}
	case VariantExamInProgress:
		if s.Exam == nil {
			return fmt.Errorf("exam_in_progress requires exam payload")
		}
	case VariantGenerationInProgress:
		if s.Generation == nil {
			return fmt.Errorf("generation_in_progress requires generation payload")
		}
	case VariantIdle, VariantAwaitingConsent, VariantAudioChat:
	default:
		return fmt.Errorf("unknown session variant %q", s.Variant)
	}
	return nil
}

// TTLPolicy assigns a staleness timeout per variant class. A session whose
// UpdatedAt is older than its timeout is expired; the next reader clears it
// and routes the user to a safe default instead of resuming stale state.
type TTLPolicy struct {
	Default time.Duration // questions, exams, audio
	Flow    time.Duration // registration, linking, payment, consent
}

// TTLFor returns the staleness timeout for the variant.
func (p TTLPolicy) TTLFor(v Variant) time.Duration {
	switch v {
	case VariantRegistrationStep, VariantAccountLinking, VariantPaymentFlow, VariantAwaitingConsent:
		if p.Flow > 0 {
			return p.Flow
		}
	}
	if p.Default > 0 {
		return p.Default
	}
	return 30 * time.Minute
}

// Expired reports whether the session is stale under the policy.
func (s *Session) Expired(p TTLPolicy, now time.Time) bool {
	if s.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(s.UpdatedAt) > p.TTLFor(s.Variant)
}
