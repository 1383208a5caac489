package model

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

type RecipientStatus string

const (
	Pending   RecipientStatus = "pending"
	Delivered RecipientStatus = "delivered"
	Failed    RecipientStatus = "failed"
)

func (s RecipientStatus) Valid() bool {
	switch s {
	case Pending, Delivered, Failed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s RecipientStatus) Terminal() bool {
	return s == Delivered || s == Failed
}

// Mailing is one broadcast submission. Recipients maps every phone of the
// mailing to its current delivery status.
type Mailing struct {
	ID         string
	Text       string
	CreatedAt  time.Time
	Recipients map[string]RecipientStatus
}

// Phones returns the recipient phones in lexical order.
func (m Mailing) Phones() []string {
	out := make([]string, 0, len(m.Recipients))
	for p := range m.Recipients {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot counts recipient statuses. ok is false for a mailing without
// recipients.
func (m Mailing) Snapshot() (snap Snapshot, ok bool) {
	if len(m.Recipients) == 0 {
		return Snapshot{}, false
	}

	snap = Snapshot{
		MailingID:  m.ID,
		Text:       m.Text,
		TotalCount: len(m.Recipients),
	}
	if !m.CreatedAt.IsZero() {
		snap.Timestamp = float64(m.CreatedAt.UnixNano()) / float64(time.Second)
	}
	for _, st := range m.Recipients {
		switch st {
		case Delivered:
			snap.DeliveredCount++
		case Failed:
			snap.FailedCount++
		}
	}
	return snap, true
}

// Snapshot is the aggregated delivery progress of a mailing at one point in time.
type Snapshot struct {
	Timestamp      float64 `json:"timestamp"`
	Text           string  `json:"SMSText"`
	MailingID      string  `json:"mailingId"`
	TotalCount     int     `json:"totalSMSAmount"`
	DeliveredCount int     `json:"deliveredSMSAmount"`
	FailedCount    int     `json:"failedSMSAmount"`
}

const StatusFrameType = "SMSMailingStatus"

// StatusFrame is one message of the live status channel.
type StatusFrame struct {
	MsgType  string     `json:"msgType"`
	Mailings []Snapshot `json:"SMSMailings"`
}

func NewStatusFrame(snaps []Snapshot) StatusFrame {
	if snaps == nil {
		snaps = []Snapshot{}
	}
	return StatusFrame{MsgType: StatusFrameType, Mailings: snaps}
}

// ParsePhones splits a comma or whitespace separated phone list.
func ParsePhones(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
}
