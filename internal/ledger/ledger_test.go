package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/trustfirst/internal/buffer"
	"github.com/mmynk/trustfirst/internal/lock"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/notify"
	"github.com/mmynk/trustfirst/internal/proofstore"
	"github.com/mmynk/trustfirst/internal/schedule"
	"github.com/mmynk/trustfirst/internal/storage/sqlite"
)

type memProofs struct {
	mu      sync.Mutex
	seq     int
	stored  map[string]bool
	deleted []string
	putErr  error
}

func (m *memProofs) Put(ctx context.Context, prefix string, up proofstore.Upload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.seq++
	url := fmt.Sprintf("mem://%s/%d-%s", prefix, m.seq, up.FileName)
	m.stored[url] = true
	return url, nil
}

func (m *memProofs) Delete(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, url)
	if !m.stored[url] {
		return proofstore.ErrUnknownURL
	}
	delete(m.stored, url)
	return nil
}

func (m *memProofs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) has(kind notify.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

type fakeGenerator struct {
	mu    sync.Mutex
	plans []schedule.Plan
	err   error
	reqs  []schedule.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req schedule.Request) ([]schedule.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.plans, g.err
}

type testEnv struct {
	store      *sqlite.SQLiteStore
	agreements *Agreements
	funding    *Funding
	proofs     *memProofs
	notes      *recordingNotifier
	generator  *fakeGenerator
	locker     *lock.Local
	clock      time.Time
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "trustfirst-ledger-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := sqlite.New(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		os.Remove(tmpFile.Name())
		os.Remove(tmpFile.Name() + "-wal")
		os.Remove(tmpFile.Name() + "-shm")
	})
	return store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		store:     newTestStore(t),
		proofs:    &memProofs{stored: make(map[string]bool)},
		notes:     &recordingNotifier{},
		generator: &fakeGenerator{},
		locker:    lock.NewLocal(),
		clock:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	e.agreements = NewAgreements(e.store,
		WithProofStore(e.proofs),
		WithNotifier(e.notes),
		WithGenerator(e.generator),
		WithLocker(e.locker),
		WithClock(func() time.Time { return e.clock }),
		WithPhoneRegion("US"),
	)
	e.funding = NewFunding(e.agreements)
	return e
}

func (e *testEnv) user(t *testing.T, email, name string) *models.User {
	t.Helper()
	u := models.NewUser(email, name, "hash")
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func (e *testEnv) create(t *testing.T, in CreateInput) *models.Agreement {
	t.Helper()
	a, err := e.agreements.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return a
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func file(name string) proofstore.Upload {
	return proofstore.Upload{FileName: name, ContentType: "image/png", Data: []byte("png")}
}

func intPtr(v int) *int {
	return &v
}

func TestCreateAgreement(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")
	witness := e.user(t, "witness@example.com", "Wit")

	t.Run("no witness starts active", func(t *testing.T) {
		a := e.create(t, CreateInput{
			LenderID:      lender.ID,
			BorrowerEmail: "Borrower@Example.com",
			Amount:        amount(9000),
			Purpose:       "tuition",
			DueDate:       e.clock.AddDate(0, 0, 90),
		})
		if a.Status != models.StatusActive {
			t.Errorf("status = %s, want active", a.Status)
		}
		if a.Borrower.ID != borrower.ID || a.Lender.ID != lender.ID {
			t.Errorf("unexpected parties: %+v / %+v", a.Lender, a.Borrower)
		}
		if a.BufferDaysGranted != buffer.DefaultDays || a.BufferDaysRemaining != buffer.DefaultDays {
			t.Errorf("buffer = %d/%d", a.BufferDaysRemaining, a.BufferDaysGranted)
		}
		if a.TrustScore != 80 || a.BaseTrustScore != 80 {
			t.Errorf("trust score = %d (base %d)", a.TrustScore, a.BaseTrustScore)
		}

		want := []struct {
			event     string
			completed bool
		}{
			{models.EventCreated, true},
			{models.EventWitnessApproved, true},
			{models.EventMoneySent, false},
			{models.EventPaymentReceived, false},
		}
		if len(a.Timeline) != len(want) {
			t.Fatalf("timeline has %d entries", len(a.Timeline))
		}
		for i, w := range want {
			got := a.Timeline[i]
			if got.Event != w.event || got.Completed != w.completed || (got.Date != nil) != w.completed {
				t.Errorf("timeline[%d] = %+v, want %s completed=%v", i, got, w.event, w.completed)
			}
		}
		if !e.notes.has(notify.AgreementCreated) {
			t.Error("expected AgreementCreated notification")
		}

		stored, err := e.store.GetUserByID(ctx, lender.ID)
		if err != nil {
			t.Fatalf("GetUserByID failed: %v", err)
		}
		if !stored.TotalLent.Equal(amount(9000)) || stored.AgreementCount != 1 {
			t.Errorf("lender stats = %s / %d", stored.TotalLent, stored.AgreementCount)
		}
	})

	t.Run("witness starts pending", func(t *testing.T) {
		a := e.create(t, CreateInput{
			LenderID:      lender.ID,
			BorrowerEmail: borrower.Email,
			Amount:        amount(500),
			DueDate:       e.clock.AddDate(0, 1, 0),
			Witness:       &WitnessInput{Email: witness.Email, Phone: "650-253-0000"},
		})
		if a.Status != models.StatusPendingWitness || a.WitnessApproved {
			t.Errorf("status = %s approved = %v", a.Status, a.WitnessApproved)
		}
		if a.Timeline[1].Completed {
			t.Error("Witness Approved should be pending")
		}
		if a.Witness.Name != "Wit" || a.Witness.Phone != "+16502530000" {
			t.Errorf("witness = %+v", a.Witness)
		}
		if !e.notes.has(notify.WitnessRequested) {
			t.Error("expected WitnessRequested notification")
		}
	})

	t.Run("lender proof completes money sent", func(t *testing.T) {
		proof := file("transfer.png")
		a := e.create(t, CreateInput{
			LenderID:      lender.ID,
			BorrowerEmail: borrower.Email,
			Amount:        amount(100),
			DueDate:       e.clock.AddDate(0, 0, 10),
			BufferDays:    intPtr(0),
			LenderProof:   &proof,
		})
		if a.LenderProof == nil || a.LenderProof.URL == "" {
			t.Fatalf("lender proof not recorded: %+v", a.LenderProof)
		}
		if !a.Timeline[2].Completed {
			t.Error("Money Sent should be completed")
		}
		if a.BufferDaysRemaining != 0 {
			t.Errorf("buffer = %d, want 0", a.BufferDaysRemaining)
		}
	})

	errorTests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{
			name: "unknown borrower",
			in:   CreateInput{LenderID: lender.ID, BorrowerEmail: "nobody@example.com", Amount: amount(1), DueDate: e.clock.AddDate(0, 0, 1)},
			want: models.ErrNotFound,
		},
		{
			name: "unknown witness",
			in: CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(1), DueDate: e.clock.AddDate(0, 0, 1),
				Witness: &WitnessInput{Email: "ghost@example.com"}},
			want: models.ErrNotFound,
		},
		{
			name: "witness is a party",
			in: CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(1), DueDate: e.clock.AddDate(0, 0, 1),
				Witness: &WitnessInput{Email: lender.Email}},
			want: models.ErrInvalidArgument,
		},
		{
			name: "lending to self",
			in:   CreateInput{LenderID: lender.ID, BorrowerEmail: lender.Email, Amount: amount(1), DueDate: e.clock.AddDate(0, 0, 1)},
			want: models.ErrInvalidArgument,
		},
		{
			name: "due date in the past",
			in:   CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(1), DueDate: e.clock.AddDate(0, 0, -1)},
			want: models.ErrInvalidArgument,
		},
		{
			name: "zero amount",
			in:   CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: decimal.Zero, DueDate: e.clock.AddDate(0, 0, 1)},
			want: models.ErrInvalidArgument,
		},
		{
			name: "amount overflows minor units",
			in: CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: decimal.RequireFromString("184467440737095517"),
				DueDate: e.clock.AddDate(0, 0, 1)},
			want: models.ErrInvalidArgument,
		},
		{
			name: "amount above maximum",
			in: CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: models.MaxAmount.Add(decimal.New(1, -2)),
				DueDate: e.clock.AddDate(0, 0, 1)},
			want: models.ErrInvalidArgument,
		},
		{
			name: "malformed email",
			in:   CreateInput{LenderID: lender.ID, BorrowerEmail: "not-an-email", Amount: amount(1), DueDate: e.clock.AddDate(0, 0, 1)},
			want: models.ErrInvalidArgument,
		},
		{
			name: "buffer allowance too large",
			in: CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(1), DueDate: e.clock.AddDate(0, 0, 1),
				BufferDays: intPtr(15)},
			want: models.ErrInvalidArgument,
		},
		{
			name: "invalid phone",
			in: CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, BorrowerPhone: "12345", Amount: amount(1),
				DueDate: e.clock.AddDate(0, 0, 1)},
			want: models.ErrInvalidArgument,
		},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.agreements.Create(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("largest amount is stored exactly", func(t *testing.T) {
		a := e.create(t, CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: models.MaxAmount, DueDate: e.clock.AddDate(0, 0, 30)})
		stored, err := e.store.GetAgreement(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAgreement failed: %v", err)
		}
		if !stored.Amount.Equal(models.MaxAmount) {
			t.Errorf("stored amount = %s, want %s", stored.Amount, models.MaxAmount)
		}
	})

	t.Run("failed proof upload creates nothing", func(t *testing.T) {
		before, _ := e.agreements.ListForParty(ctx, lender.ID)
		e.proofs.putErr = errors.New("bucket unavailable")
		defer func() { e.proofs.putErr = nil }()

		proof := file("transfer.png")
		_, err := e.agreements.Create(ctx, CreateInput{
			LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(1),
			DueDate: e.clock.AddDate(0, 0, 1), LenderProof: &proof,
		})
		if err == nil {
			t.Fatal("expected upload error")
		}
		after, _ := e.agreements.ListForParty(ctx, lender.ID)
		if len(after) != len(before) {
			t.Errorf("agreement count changed from %d to %d", len(before), len(after))
		}
	})
}

func TestApproveWitness(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")
	witness := e.user(t, "witness@example.com", "Wit")

	a := e.create(t, CreateInput{
		LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(1000),
		DueDate: e.clock.AddDate(0, 2, 0), Witness: &WitnessInput{Email: witness.Email},
	})

	if _, err := e.agreements.ApproveWitness(ctx, a.ID, borrower.Email); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for non-witness, got %v", err)
	}
	if _, err := e.agreements.ApproveWitness(ctx, "missing", witness.Email); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	approved, err := e.agreements.ApproveWitness(ctx, a.ID, "WITNESS@example.com")
	if err != nil {
		t.Fatalf("ApproveWitness failed: %v", err)
	}
	if approved.Status != models.StatusActive || !approved.WitnessApproved {
		t.Errorf("status = %s approved = %v", approved.Status, approved.WitnessApproved)
	}
	if entry := approved.Timeline[1]; !entry.Completed || entry.Date == nil || !entry.Date.Equal(e.clock) {
		t.Errorf("Witness Approved entry = %+v", entry)
	}
	if !e.notes.has(notify.WitnessApproved) {
		t.Error("expected WitnessApproved notification")
	}

	again, err := e.agreements.ApproveWitness(ctx, a.ID, witness.Email)
	if err != nil {
		t.Fatalf("second ApproveWitness failed: %v", err)
	}
	if again.Version != approved.Version {
		t.Errorf("second approval wrote a new version: %d != %d", again.Version, approved.Version)
	}

	plain := e.create(t, CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(10), DueDate: e.clock.AddDate(0, 0, 5)})
	if _, err := e.agreements.ApproveWitness(ctx, plain.ID, witness.Email); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState without witness, got %v", err)
	}
}

func TestLifecycleIsMonotonic(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")

	a := e.create(t, CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(300), DueDate: e.clock.AddDate(0, 0, 30)})

	if _, err := e.agreements.AttachRepaymentProof(ctx, a.ID, lender.ID, file("r.png")); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for lender, got %v", err)
	}
	if e.proofs.count() != 0 {
		t.Errorf("rejected upload stored %d files", e.proofs.count())
	}

	reviewing, err := e.agreements.AttachRepaymentProof(ctx, a.ID, borrower.ID, file("r.png"))
	if err != nil {
		t.Fatalf("AttachRepaymentProof failed: %v", err)
	}
	if reviewing.Status != models.StatusReviewing || reviewing.BorrowerProof == nil {
		t.Errorf("status = %s proof = %+v", reviewing.Status, reviewing.BorrowerProof)
	}
	if last := reviewing.Timeline[len(reviewing.Timeline)-1]; last.Event != models.EventPaymentProofUploaded || !last.Completed {
		t.Errorf("last timeline entry = %+v", last)
	}

	if _, err := e.agreements.AttachRepaymentProof(ctx, a.ID, borrower.ID, file("r2.png")); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState while reviewing, got %v", err)
	}

	if _, err := e.agreements.Settle(ctx, a.ID, borrower.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for borrower settle, got %v", err)
	}
	settled, err := e.agreements.Settle(ctx, a.ID, lender.ID)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if settled.Status != models.StatusSettled || !settled.Timeline[3].Completed {
		t.Errorf("status = %s payment received = %+v", settled.Status, settled.Timeline[3])
	}

	// Past the due date a settled agreement keeps its frozen score.
	e.clock = e.clock.AddDate(0, 0, 60)
	got, err := e.agreements.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.DisplayStatus(e.clock) != models.StatusSettled || got.TrustScore != settled.TrustScore {
		t.Errorf("settled agreement changed: %s score %d", got.DisplayStatus(e.clock), got.TrustScore)
	}

	after := map[string]func() error{
		"Settle":          func() error { _, err := e.agreements.Settle(ctx, a.ID, lender.ID); return err },
		"ExtendDueDate":   func() error { _, err := e.agreements.ExtendDueDate(ctx, a.ID, borrower.ID, 1); return err },
		"SetStrictMode":   func() error { _, err := e.agreements.SetStrictMode(ctx, a.ID, lender.ID, true); return err },
		"ApproveWitness":  func() error { _, err := e.agreements.ApproveWitness(ctx, a.ID, "w@example.com"); return err },
		"RecordMoneySent": func() error { _, err := e.agreements.RecordMoneySent(ctx, a.ID, lender.ID, file("t.png")); return err },
		"AttachRepaymentProof": func() error {
			_, err := e.agreements.AttachRepaymentProof(ctx, a.ID, borrower.ID, file("r.png"))
			return err
		},
		"SelectInstallmentPlan": func() error {
			_, err := e.agreements.SelectInstallmentPlan(ctx, a.ID, borrower.ID, PlanSelection{
				Installments: []schedule.Installment{{Date: e.clock, Amount: amount(300)}},
			})
			return err
		},
		"GeneratePlans": func() error { _, err := e.agreements.GeneratePlans(ctx, a.ID, borrower.ID); return err },
	}
	for name, op := range after {
		t.Run(name+" after settle", func(t *testing.T) {
			if err := op(); !errors.Is(err, models.ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestExtendDueDate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")

	a := e.create(t, CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(9000), DueDate: e.clock.AddDate(0, 0, 90)})
	due := a.DueDate

	if _, err := e.agreements.ExtendDueDate(ctx, a.ID, borrower.ID, 5); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for 5 > 3, got %v", err)
	}
	if _, err := e.agreements.ExtendDueDate(ctx, a.ID, lender.ID, 1); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for lender, got %v", err)
	}

	extended, err := e.agreements.ExtendDueDate(ctx, a.ID, borrower.ID, 2)
	if err != nil {
		t.Fatalf("ExtendDueDate failed: %v", err)
	}
	if !extended.DueDate.Equal(due.AddDate(0, 0, 2)) || extended.BufferDaysRemaining != 1 {
		t.Errorf("due = %s remaining = %d", extended.DueDate, extended.BufferDaysRemaining)
	}
	if extended.Status != models.StatusActive {
		t.Errorf("status changed to %s", extended.Status)
	}

	stored, err := e.store.GetAgreement(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAgreement failed: %v", err)
	}
	last := stored.Timeline[len(stored.Timeline)-1]
	if last.Event != buffer.ExtensionEvent(2, due.AddDate(0, 0, 2)) || !last.Completed {
		t.Errorf("last timeline entry = %+v", last)
	}
	if !e.notes.has(notify.DueDateExtended) {
		t.Error("expected DueDateExtended notification")
	}

	if _, err := e.agreements.ExtendDueDate(ctx, a.ID, borrower.ID, 2); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for 2 > 1, got %v", err)
	}
	if _, err := e.agreements.ExtendDueDate(ctx, a.ID, borrower.ID, 1); err != nil {
		t.Fatalf("ExtendDueDate failed: %v", err)
	}
	if _, err := e.agreements.ExtendDueDate(ctx, a.ID, borrower.ID, 1); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument with no days left, got %v", err)
	}

	final, err := e.agreements.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.BufferDaysRemaining != 0 || !final.DueDate.Equal(due.AddDate(0, 0, 3)) {
		t.Errorf("due = %s remaining = %d", final.DueDate, final.BufferDaysRemaining)
	}
}

func TestConcurrentExtensionsAreLinearized(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")

	a := e.create(t, CreateInput{
		LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(100),
		DueDate: e.clock.AddDate(0, 0, 30), BufferDays: intPtr(5),
	})

	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.agreements.ExtendDueDate(ctx, a.ID, borrower.ID, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("ExtendDueDate failed: %v", err)
		}
	}

	final, err := e.store.GetAgreement(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAgreement failed: %v", err)
	}
	if final.BufferDaysRemaining != 0 {
		t.Errorf("remaining = %d, want 0", final.BufferDaysRemaining)
	}
	if !final.DueDate.Equal(a.DueDate.AddDate(0, 0, workers)) {
		t.Errorf("due = %s, want %s", final.DueDate, a.DueDate.AddDate(0, 0, workers))
	}
	if len(final.Timeline) != 4+workers {
		t.Errorf("timeline has %d entries, want %d", len(final.Timeline), 4+workers)
	}
}

func TestTrustScore(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")

	strict := e.create(t, CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(100), DueDate: e.clock.AddDate(0, 0, 10)})
	lenient := e.create(t, CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(100), DueDate: e.clock.AddDate(0, 0, 10)})

	if _, err := e.agreements.SetStrictMode(ctx, strict.ID, borrower.ID, true); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for borrower, got %v", err)
	}
	updated, err := e.agreements.SetStrictMode(ctx, strict.ID, lender.ID, true)
	if err != nil {
		t.Fatalf("SetStrictMode failed: %v", err)
	}
	unchanged, err := e.agreements.SetStrictMode(ctx, strict.ID, lender.ID, true)
	if err != nil {
		t.Fatalf("repeated SetStrictMode failed: %v", err)
	}
	if unchanged.Version != updated.Version {
		t.Errorf("repeated SetStrictMode wrote a new version")
	}

	tests := []struct {
		name    string
		id      string
		pastDue int
		want    int
	}{
		{"strict on time", strict.ID, 0, 80},
		{"lenient on time", lenient.ID, 0, 80},
		{"strict 3 days late", strict.ID, 3, 65},
		{"lenient within buffer", lenient.ID, 3, 80},
		{"lenient 5 days late", lenient.ID, 5, 76},
	}
	due := strict.DueDate
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.clock = due.AddDate(0, 0, tt.pastDue)
			got, err := e.agreements.Get(ctx, tt.id)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.TrustScore != tt.want {
				t.Errorf("trust score = %d, want %d", got.TrustScore, tt.want)
			}
		})
	}

	t.Run("refresh persists", func(t *testing.T) {
		e.clock = due.AddDate(0, 0, 3)
		if _, err := e.agreements.RefreshTrustScore(ctx, strict.ID); err != nil {
			t.Fatalf("RefreshTrustScore failed: %v", err)
		}
		stored, err := e.store.GetAgreement(ctx, strict.ID)
		if err != nil {
			t.Fatalf("GetAgreement failed: %v", err)
		}
		if stored.TrustScore != 65 {
			t.Errorf("stored trust score = %d, want 65", stored.TrustScore)
		}
	})
}

func TestRecordMoneySent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")
	a := e.create(t, CreateInput{LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(100), DueDate: e.clock.AddDate(0, 0, 10)})

	if _, err := e.agreements.RecordMoneySent(ctx, a.ID, borrower.ID, file("t.png")); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for borrower, got %v", err)
	}
	sent, err := e.agreements.RecordMoneySent(ctx, a.ID, lender.ID, file("t.png"))
	if err != nil {
		t.Fatalf("RecordMoneySent failed: %v", err)
	}
	if sent.LenderProof == nil || !sent.Timeline[2].Completed || len(sent.Timeline) != 4 {
		t.Errorf("money sent not recorded in place: %+v", sent.Timeline)
	}
	if _, err := e.agreements.RecordMoneySent(ctx, a.ID, lender.ID, file("t2.png")); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second record, got %v", err)
	}
	if e.proofs.count() != 1 {
		t.Errorf("stored %d files, want 1", e.proofs.count())
	}
	if !e.notes.has(notify.MoneySent) {
		t.Error("expected MoneySent notification")
	}
}

func TestPartiesAndLocations(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	lender := e.user(t, "lender@example.com", "Lena")
	borrower := e.user(t, "borrower@example.com", "Bora")
	witness := e.user(t, "witness@example.com", "Wit")
	outsider := e.user(t, "out@example.com", "Out")

	t.Run("verification bonus is granted once", func(t *testing.T) {
		u, granted, err := e.agreements.VerifyParty(ctx, borrower.ID)
		if err != nil {
			t.Fatalf("VerifyParty failed: %v", err)
		}
		if !granted || u.TrustScore != models.DefaultUserTrustScore+10 || !u.IsVerified {
			t.Errorf("granted = %v user = %+v", granted, u)
		}
		u, granted, err = e.agreements.VerifyParty(ctx, borrower.ID)
		if err != nil {
			t.Fatalf("VerifyParty failed: %v", err)
		}
		if granted || u.TrustScore != models.DefaultUserTrustScore+10 {
			t.Errorf("second verification: granted = %v score = %d", granted, u.TrustScore)
		}
		if _, _, err := e.agreements.VerifyParty(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	a := e.create(t, CreateInput{
		LenderID: lender.ID, BorrowerEmail: borrower.Email, Amount: amount(400),
		DueDate: e.clock.AddDate(0, 0, 10), Witness: &WitnessInput{Email: witness.Email},
	})

	t.Run("roles are derived from the caller", func(t *testing.T) {
		loc, err := e.agreements.RecordLocation(ctx, LocationInput{AgreementID: a.ID, UserID: lender.ID, Latitude: 12.97, Longitude: 77.59})
		if err != nil {
			t.Fatalf("RecordLocation failed: %v", err)
		}
		if loc.Role != RoleLender {
			t.Errorf("role = %s", loc.Role)
		}

		e.clock = e.clock.Add(time.Minute)
		loc, err = e.agreements.RecordLocation(ctx, LocationInput{
			AgreementID: a.ID, UserID: witness.ID, Email: witness.Email,
			Latitude: 13, Longitude: 77, Context: `{"place":"hospital"}`, IsEmergency: true,
		})
		if err != nil {
			t.Fatalf("RecordLocation failed: %v", err)
		}
		if loc.Role != RoleWitness {
			t.Errorf("role = %s", loc.Role)
		}

		latest, err := e.agreements.LatestLocation(ctx, a.ID)
		if err != nil {
			t.Fatalf("LatestLocation failed: %v", err)
		}
		if latest.ID != loc.ID || !latest.IsEmergency || latest.Context != `{"place":"hospital"}` {
			t.Errorf("latest = %+v", latest)
		}
	})

	locationErrors := []struct {
		name string
		in   LocationInput
		want error
	}{
		{"outsider", LocationInput{AgreementID: a.ID, UserID: outsider.ID}, models.ErrForbidden},
		{"latitude out of range", LocationInput{AgreementID: a.ID, UserID: lender.ID, Latitude: 91}, models.ErrInvalidArgument},
		{"context is not json", LocationInput{AgreementID: a.ID, UserID: lender.ID, Context: "{"}, models.ErrInvalidArgument},
		{"unknown agreement", LocationInput{AgreementID: "missing", UserID: lender.ID}, models.ErrNotFound},
	}
	for _, tt := range locationErrors {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.agreements.RecordLocation(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("summary", func(t *testing.T) {
		s, err := e.agreements.Summary(ctx, lender.ID)
		if err != nil {
			t.Fatalf("Summary failed: %v", err)
		}
		if !s.TotalLent.Equal(amount(400)) || s.PendingWitness != 1 {
			t.Errorf("summary = %+v", s)
		}
	})

	t.Run("visibility", func(t *testing.T) {
		if !CanView(a, borrower.ID, "") || !CanView(a, "", witness.Email) || CanView(a, outsider.ID, outsider.Email) {
			t.Error("unexpected visibility")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := e.agreements.Delete(ctx, a.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := e.agreements.Get(ctx, a.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}
