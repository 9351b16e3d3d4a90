package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	for _, valid := range AllStatuses {
		got, err := ParseStatus(string(valid))
		if err != nil {
			t.Errorf("ParseStatus(%q) failed: %v", valid, err)
		}
		if got != valid {
			t.Errorf("ParseStatus(%q) = %q", valid, got)
		}
	}

	_, err := ParseStatus("resolved")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for unknown status, got %v", err)
	}
}

func TestSetStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	appID := seedApp(t, s, "com.example.app")
	id := seedSubmission(t, s, KindCrash, appID, "sub-1")

	if err := s.SetStatus(ctx, KindCrash, id, StatusInvestigating, "looking into allocator", nil); err != nil {
		t.Fatalf("investigate failed: %v", err)
	}
	sub, _ := s.GetSubmission(ctx, KindCrash, id)
	if sub.Status != StatusInvestigating || sub.Notes != "looking into allocator" {
		t.Errorf("after investigate: status=%s notes=%q", sub.Status, sub.Notes)
	}
	if sub.FixedAt != nil {
		t.Error("investigate must not set fixed_at")
	}

	// Empty notes preserve the existing notes.
	if err := s.SetStatus(ctx, KindCrash, id, StatusWontfix, "", nil); err != nil {
		t.Fatalf("wontfix failed: %v", err)
	}
	sub, _ = s.GetSubmission(ctx, KindCrash, id)
	if sub.Status != StatusWontfix {
		t.Errorf("status = %s, want wontfix", sub.Status)
	}
	if sub.Notes != "looking into allocator" {
		t.Errorf("notes clobbered by empty update: %q", sub.Notes)
	}

	if err := s.SetStatus(ctx, KindCrash, id, StatusFixed, "bounds check added", nil); err != nil {
		t.Fatalf("fix failed: %v", err)
	}
	sub, _ = s.GetSubmission(ctx, KindCrash, id)
	if sub.Status != StatusFixed || sub.Notes != "bounds check added" {
		t.Errorf("after fix: status=%s notes=%q", sub.Status, sub.Notes)
	}
	if sub.FixedAt == nil {
		t.Fatal("fix must set fixed_at")
	}
	if time.Since(*sub.FixedAt) > time.Minute {
		t.Errorf("fixed_at not recent: %v", sub.FixedAt)
	}
}

func TestFixRequiresNotes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	appID := seedApp(t, s, "com.example.app")
	id := seedSubmission(t, s, KindCrash, appID, "sub-1")

	var verr *ValidationError
	if err := s.SetStatus(ctx, KindCrash, id, StatusFixed, "", nil); !errors.As(err, &verr) {
		t.Errorf("fix without notes: got %v, want ValidationError", err)
	}

	sub, _ := s.GetSubmission(ctx, KindCrash, id)
	if sub.Status != StatusNew {
		t.Errorf("rejected fix changed status to %s", sub.Status)
	}
}

func TestSetStatusDuplicateValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	appID := seedApp(t, s, "com.example.app")
	a := seedSubmission(t, s, KindCrash, appID, "sub-a")
	b := seedSubmission(t, s, KindCrash, appID, "sub-b")
	c := seedSubmission(t, s, KindCrash, appID, "sub-c")

	var verr *ValidationError

	if err := s.SetStatus(ctx, KindCrash, a, StatusDuplicate, "", nil); !errors.As(err, &verr) {
		t.Errorf("duplicate without target: got %v", err)
	}
	if err := s.SetStatus(ctx, KindCrash, a, StatusDuplicate, "", &a); !errors.As(err, &verr) {
		t.Errorf("self-duplicate: got %v", err)
	}
	missing := int64(999)
	if err := s.SetStatus(ctx, KindCrash, a, StatusDuplicate, "", &missing); !errors.As(err, &verr) {
		t.Errorf("missing target: got %v", err)
	}

	// a -> b -> c is a valid chain.
	if err := s.SetStatus(ctx, KindCrash, b, StatusDuplicate, "", &c); err != nil {
		t.Fatalf("b duplicate of c failed: %v", err)
	}
	if err := s.SetStatus(ctx, KindCrash, a, StatusDuplicate, "", &b); err != nil {
		t.Fatalf("a duplicate of b failed: %v", err)
	}

	// Closing the loop c -> a must be rejected.
	if err := s.SetStatus(ctx, KindCrash, c, StatusDuplicate, "", &a); !errors.As(err, &verr) {
		t.Errorf("cycle: got %v", err)
	}

	sub, _ := s.GetSubmission(ctx, KindCrash, a)
	if sub.DuplicateOf == nil || *sub.DuplicateOf != b {
		t.Errorf("duplicate_of = %v, want %d", sub.DuplicateOf, b)
	}

	// Leaving duplicate status clears the reference.
	if err := s.SetStatus(ctx, KindCrash, a, StatusWontfix, "", nil); err != nil {
		t.Fatalf("wontfix failed: %v", err)
	}
	sub, _ = s.GetSubmission(ctx, KindCrash, a)
	if sub.DuplicateOf != nil {
		t.Errorf("duplicate_of survived wontfix: %v", *sub.DuplicateOf)
	}
}

func TestReopen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	appID := seedApp(t, s, "com.example.app")
	target := seedSubmission(t, s, KindCrash, appID, "sub-target")
	id := seedSubmission(t, s, KindCrash, appID, "sub-dup")

	if err := s.SetStatus(ctx, KindCrash, id, StatusDuplicate, "same stack as the other one", &target); err != nil {
		t.Fatalf("duplicate failed: %v", err)
	}
	if err := s.Reopen(ctx, KindCrash, id); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}

	sub, err := s.GetSubmission(ctx, KindCrash, id)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if sub.Status != StatusNew {
		t.Errorf("status = %s, want new", sub.Status)
	}
	if sub.DuplicateOf != nil {
		t.Error("reopen must clear duplicate_of")
	}
	if sub.FixedAt != nil {
		t.Error("reopen must clear fixed_at")
	}
	if sub.Notes != "same stack as the other one" {
		t.Errorf("reopen must preserve notes, got %q", sub.Notes)
	}

	// Reopened record can be triaged again.
	if err := s.SetStatus(ctx, KindCrash, id, StatusFixed, "patched in 2.1.3", nil); err != nil {
		t.Fatalf("fix after reopen failed: %v", err)
	}
	sub, _ = s.GetSubmission(ctx, KindCrash, id)
	if sub.Status != StatusFixed || sub.Notes != "patched in 2.1.3" {
		t.Errorf("after re-fix: status=%s notes=%q", sub.Status, sub.Notes)
	}

	if err := s.Reopen(ctx, KindCrash, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusNew:           false,
		StatusInvestigating: false,
		StatusFixed:         true,
		StatusWontfix:       true,
		StatusDuplicate:     true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
