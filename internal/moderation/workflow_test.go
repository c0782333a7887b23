package moderation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"donorlink.org/internal/api"
	"donorlink.org/internal/apperr"
	"donorlink.org/internal/audit"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/obs"
)

type fakeAdminAPI struct {
	mu          sync.Mutex
	ngos        map[string]domain.NGO
	moderations []api.Action
	moderateErr error
	block       chan struct{}
	entered     chan struct{}
}

func newFakeAdminAPI(ngos ...domain.NGO) *fakeAdminAPI {
	f := &fakeAdminAPI{ngos: make(map[string]domain.NGO)}
	for _, n := range ngos {
		f.ngos[n.ID] = n
	}
	return f
}

func (f *fakeAdminAPI) NGO(ctx context.Context, id string) (domain.NGO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.ngos[id]
	if !ok {
		return domain.NGO{}, apperr.New(apperr.KindNotFound, "NGO not found")
	}
	return n, nil
}

func (f *fakeAdminAPI) NGOs(ctx context.Context) ([]domain.NGO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.NGO
	for _, n := range f.ngos {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeAdminAPI) Moderate(ctx context.Context, id string, action api.Action, reason string) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moderations = append(f.moderations, action)
	if f.moderateErr != nil {
		return "", f.moderateErr
	}
	n := f.ngos[id]
	switch action {
	case api.ActionApprove:
		n.VerificationStatus = domain.VerificationVerified
	case api.ActionReject:
		n.VerificationStatus = domain.VerificationRejected
		n.RejectionReason = reason
	case api.ActionBlock:
		n.IsBlocked = true
	case api.ActionUnblock:
		n.IsBlocked = false
	case api.ActionApproveUpdate:
		n.Profile = *n.PendingProfileUpdate
		n.PendingProfileUpdate = nil
	case api.ActionRejectUpdate:
		n.PendingProfileUpdate = nil
	}
	f.ngos[id] = n
	return "done", nil
}

func (f *fakeAdminAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moderations)
}

func quiet(t *testing.T) {
	restore := obs.SetLogOutput(io.Discard)
	t.Cleanup(restore)
}

func TestReasonRequired(t *testing.T) {
	quiet(t)
	f := newFakeAdminAPI(domain.NGO{ID: "n1", VerificationStatus: domain.VerificationPending})
	w := New(f)
	ctx := context.Background()
	checks := []func() (Result, error){
		func() (Result, error) { return w.RejectNGO(ctx, "n1", "") },
		func() (Result, error) { return w.BlockNGO(ctx, "n1", "  ") },
		func() (Result, error) { return w.UnblockNGO(ctx, "n1", "") },
		func() (Result, error) { return w.RejectProfileUpdate(ctx, "n1", "") },
	}
	for i, call := range checks {
		if _, err := call(); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("case %d: err = %v, want validation", i, err)
		}
	}
	if f.calls() != 0 {
		t.Fatal("no server call expected")
	}
}

func TestApproveReturnsFreshState(t *testing.T) {
	quiet(t)
	f := newFakeAdminAPI(domain.NGO{ID: "n1", VerificationStatus: domain.VerificationPending})
	res, err := New(f).ApproveNGO(context.Background(), "n1")
	if err != nil {
		t.Fatalf("ApproveNGO: %v", err)
	}
	if !res.Applied || res.NGO.VerificationStatus != domain.VerificationVerified {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestActionsAreIdempotent(t *testing.T) {
	quiet(t)
	f := newFakeAdminAPI(domain.NGO{ID: "n1", VerificationStatus: domain.VerificationVerified})
	w := New(f)
	ctx := context.Background()

	if _, err := w.BlockNGO(ctx, "n1", "fraud report"); err != nil {
		t.Fatalf("BlockNGO: %v", err)
	}
	res, err := w.BlockNGO(ctx, "n1", "fraud report")
	if err != nil || res.Applied || !res.NGO.IsBlocked {
		t.Fatalf("second BlockNGO = %+v, %v", res, err)
	}
	if f.calls() != 1 {
		t.Fatalf("server calls = %d, want 1", f.calls())
	}
	// Blocking leaves verification alone.
	if res.NGO.VerificationStatus != domain.VerificationVerified {
		t.Fatalf("verification changed: %v", res.NGO.VerificationStatus)
	}
}

func TestConflictIsSuccess(t *testing.T) {
	quiet(t)
	f := newFakeAdminAPI(domain.NGO{ID: "n1", VerificationStatus: domain.VerificationPending})
	f.moderateErr = apperr.New(apperr.KindConflict, "already approved")
	res, err := New(f).ApproveNGO(context.Background(), "n1")
	if err != nil || !res.Applied {
		t.Fatalf("ApproveNGO = %+v, %v", res, err)
	}
}

func TestProfileUpdateDecisions(t *testing.T) {
	quiet(t)
	proposed := domain.NGODetails{City: "Mumbai"}
	f := newFakeAdminAPI(
		domain.NGO{ID: "a", Profile: domain.NGODetails{City: "Pune"}, PendingProfileUpdate: &proposed},
		domain.NGO{ID: "b", Profile: domain.NGODetails{City: "Pune"}, PendingProfileUpdate: &proposed},
	)
	w := New(f)
	ctx := context.Background()

	res, err := w.ApproveProfileUpdate(ctx, "a")
	if err != nil || res.NGO.Profile.City != "Mumbai" || res.NGO.PendingProfileUpdate != nil {
		t.Fatalf("approve = %+v, %v", res, err)
	}
	res, err = w.RejectProfileUpdate(ctx, "b", "unverifiable address")
	if err != nil || res.NGO.Profile.City != "Pune" || res.NGO.PendingProfileUpdate != nil {
		t.Fatalf("reject = %+v, %v", res, err)
	}
	if res, _ := w.ApproveProfileUpdate(ctx, "b"); res.Applied {
		t.Fatal("no pending update left to approve")
	}
}

func TestConcurrentActionInFlight(t *testing.T) {
	quiet(t)
	f := newFakeAdminAPI(domain.NGO{ID: "n1", VerificationStatus: domain.VerificationPending})
	f.block = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	w := New(f)

	done := make(chan error, 1)
	go func() {
		_, err := w.ApproveNGO(context.Background(), "n1")
		done <- err
	}()
	select {
	case <-f.entered:
	case <-time.After(time.Second):
		t.Fatal("first action never reached the server")
	}
	if _, err := w.ApproveNGO(context.Background(), "n1"); !errors.Is(err, apperr.ErrInFlight) {
		t.Fatalf("err = %v, want InFlight", err)
	}
	close(f.block)
	if err := <-done; err != nil {
		t.Fatalf("first action: %v", err)
	}
}

func TestAppliedActionIsAudited(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetLogOutput(&buf)
	defer restore()

	f := newFakeAdminAPI(domain.NGO{ID: "n1", VerificationStatus: domain.VerificationPending})
	ctx := audit.WithActor(context.Background(), "admin-1")
	if _, err := New(f).RejectNGO(ctx, "n1", "incomplete documents"); err != nil {
		t.Fatalf("RejectNGO: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"ngo.reject"`) || !strings.Contains(out, `"actor":"admin-1"`) {
		t.Fatalf("audit entry missing: %s", out)
	}
}

func TestQueue(t *testing.T) {
	proposed := domain.NGODetails{City: "X"}
	f := newFakeAdminAPI(
		domain.NGO{ID: "p", VerificationStatus: domain.VerificationPending},
		domain.NGO{ID: "v", VerificationStatus: domain.VerificationVerified},
		domain.NGO{ID: "u", VerificationStatus: domain.VerificationVerified, PendingProfileUpdate: &proposed},
	)
	q, err := New(f).Queue(context.Background())
	if err != nil || len(q) != 2 {
		t.Fatalf("Queue = %+v, %v", q, err)
	}
}
