package store

import (
	"fmt"
	"strings"
)

// Status is the triage status of a submission.
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusFixed         Status = "fixed"
	StatusWontfix       Status = "wontfix"
	StatusDuplicate     Status = "duplicate"
)

// AllStatuses lists every valid status, in display order.
var AllStatuses = []Status{StatusNew, StatusInvestigating, StatusFixed, StatusWontfix, StatusDuplicate}

// ParseStatus validates a user-supplied status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(strings.ToLower(s)))
	for _, v := range AllStatuses {
		if st == v {
			return st, nil
		}
	}
	return "", &ValidationError{Msg: fmt.Sprintf("unknown status %q", s)}
}

// Terminal reports whether the status ends the triage workflow.
// Terminal records are only re-entered via reopen.
func (s Status) Terminal() bool {
	return s == StatusFixed || s == StatusWontfix || s == StatusDuplicate
}

// AttachmentState tracks whether a submission's attachment has been
// mirrored locally.
type AttachmentState string

const (
	// AttachmentPending: not yet downloaded; retried on every sync within
	// the retention window.
	AttachmentPending AttachmentState = "pending"
	// AttachmentDownloaded: saved locally; never re-fetched.
	AttachmentDownloaded AttachmentState = "downloaded"
	// AttachmentUnavailable: the retention window elapsed without the
	// remote side ever producing the attachment.
	AttachmentUnavailable AttachmentState = "unavailable"
)

// ValidationError reports an integrity violation in a requested mutation,
// such as a duplicate-of reference to a missing record or a reference
// cycle. It is surfaced to the caller rather than aborting the run.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
