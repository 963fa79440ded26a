package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/parts-intake/constants"
)

// PartUnit is one logical part found in an email body, carried through merge and normalize.
type PartUnit struct {
	EmailIndex int                 `json:"email_index"`
	Index      int                 `json:"part_index"` // 1-based
	Body       FieldRecord         `json:"body"`
	Merged     string              `json:"merged,omitempty"`
	Normalized FieldRecord         `json:"normalized"`
	State      constants.PartState `json:"state"`
	Reason     string              `json:"reason,omitempty"`
}

// NewPartUnit starts a part in BODY_EXTRACTED.
func NewPartUnit(emailIndex, index int, body FieldRecord) *PartUnit {
	return &PartUnit{EmailIndex: emailIndex, Index: index, Body: body, State: constants.PartBodyExtracted}
}

// Advance moves the part to the next state, rejecting illegal transitions.
func (p *PartUnit) Advance(to constants.PartState) error {
	if p.State.IsTerminal() {
		return fmt.Errorf("part %d: state %s is terminal", p.Index, p.State)
	}
	if !constants.CanTransition(p.State, to) {
		return fmt.Errorf("part %d: illegal transition %s -> %s", p.Index, p.State, to)
	}
	p.State = to
	return nil
}

// Skip moves the part to a terminal skip state with a reason.
func (p *PartUnit) Skip(to constants.PartState, reason string) error {
	if err := p.Advance(to); err != nil {
		return err
	}
	p.Reason = reason
	return nil
}

// EmailJob is one mailbox message being processed end to end.
type EmailJob struct {
	ID          uuid.UUID
	Index       int
	Subject     string
	Sender      string
	Body        string
	Attachments []RawAttachment
	Images      []NormalizedImage
	Documents   []FieldRecord
	Parts       []*PartUnit
	StartedAt   time.Time
}

// NewEmailJob creates a job for the given 1-based mailbox index.
func NewEmailJob(index int) *EmailJob {
	return &EmailJob{ID: uuid.New(), Index: index, StartedAt: time.Now()}
}
