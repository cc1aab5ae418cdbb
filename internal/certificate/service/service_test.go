package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Compiler,Ledger,SubjectDirectory,KeySealer,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustcert/internal/certificate/approval"
	"trustcert/internal/certificate/compiler"
	"trustcert/internal/certificate/models"
	"trustcert/internal/certificate/service/mocks"
	"trustcert/internal/certificate/store"
	ledger "trustcert/internal/ledger/models"
	principal "trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/keyseal"
	"trustcert/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	compiler *mocks.MockCompiler
	ledger   *mocks.MockLedger
	subjects *mocks.MockSubjectDirectory
	auditor  *mocks.MockAuditPublisher
	sealer   *keyseal.Sealer
	store    *store.InMemoryStore
	svc      *Service
	issuer   id.PrincipalID
	now      time.Time
	ctx      context.Context

	faculty approval.Actor
	admin   approval.Actor
	student approval.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.compiler = mocks.NewMockCompiler(s.ctrl)
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.subjects = mocks.NewMockSubjectDirectory(s.ctrl)
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	sealer, err := keyseal.NewEphemeral()
	s.Require().NoError(err)
	s.sealer = sealer
	s.store = store.NewInMemoryStore()
	s.svc = New(s.store, s.compiler, s.ledger, s.sealer,
		WithSubjectDirectory(s.subjects),
		WithAuditPublisher(s.auditor),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.issuer = id.PrincipalID(uuid.New())
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	s.faculty = approval.Actor{ID: s.issuer, Username: "prof.smith", Role: principal.RoleFaculty}
	s.admin = approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "admin", Role: principal.RoleAdmin}
	s.student = approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "alice", Role: principal.RoleStudent}
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) seed(subject string, specs ...models.Spec) *models.Certificate {
	sealed, err := s.sealer.Seal("aes-key-123")
	s.Require().NoError(err)
	cert, err := models.NewCertificate(id.CertificateID(uuid.New()), "Diploma", subject, s.issuer,
		specs, "ipfs://cid", sealed, s.now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, cert))
	return cert
}

func (s *ServiceSuite) expectAudit(actions ...audit.AuditEvent) {
	for _, action := range actions {
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
			s.Equal(string(action), e.Action)
			return nil
		})
	}
}

func chainOf(subject, category string, values ...string) []*ledger.RecordVersion {
	var (
		out  []*ledger.RecordVersion
		head *ledger.RecordVersion
	)
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, v := range values {
		rec, err := ledger.NewRecordVersion(id.RecordID(uuid.New()), ledger.ChainKey{Subject: subject, Category: category},
			v, id.PrincipalID(uuid.New()), at.Add(time.Duration(i)*time.Minute), head)
		if err != nil {
			panic(err)
		}
		out = append(out, rec)
		head = rec
	}
	return out
}

var (
	attendance80 = models.Spec{Kind: models.KindAttendance, Target: "80", Description: "Attendance greater than 80%"}
	gradeB       = models.Spec{Kind: models.KindGrade, Target: "B", Description: "Grade better than B"}
	openApproval = models.Spec{Kind: models.KindApproval, Role: models.ApprovalRoleFaculty, Description: "Requires Faculty Approval"}
	pastDate     = models.Spec{Kind: models.KindTime, Target: "2026-01-01", Description: "Release after 2026-01-01"}
	futureDate   = models.Spec{Kind: models.KindTime, Target: "2027-01-01", Description: "Release after 2027-01-01"}
)

func (s *ServiceSuite) TestIssue() {
	input := IssueInput{
		Title:      "BSc Computer Science",
		Subject:    "alice",
		Conditions: compiler.Input{FreeText: "Attendance > 80%"},
		PayloadRef: "ipfs://cid",
		PayloadKey: "aes-key-123",
		Issuer:     s.issuer,
	}

	s.Run("stores a LOCKED certificate with a sealed key", func() {
		s.subjects.EXPECT().SubjectExists(gomock.Any(), "alice").Return(true, nil)
		s.compiler.EXPECT().Compile(gomock.Any(), input.Conditions).Return([]models.Spec{attendance80}, nil)
		s.expectAudit(audit.EventCertificateCreated)

		cert, err := s.svc.Issue(s.ctx, input)
		s.Require().NoError(err)
		s.Equal(models.StatusLocked, cert.Status)
		s.NotEqual("aes-key-123", cert.PayloadKey)
		s.Equal(s.now, cert.CreatedAt)

		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Len(stored.Conditions, 1)
		opened, err := s.sealer.Open(stored.PayloadKey)
		s.Require().NoError(err)
		s.Equal("aes-key-123", opened)
	})

	s.Run("unknown subject is not found", func() {
		s.subjects.EXPECT().SubjectExists(gomock.Any(), "alice").Return(false, nil)

		_, err := s.svc.Issue(s.ctx, input)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("directory failure is internal", func() {
		s.subjects.EXPECT().SubjectExists(gomock.Any(), "alice").Return(false, errors.New("db down"))

		_, err := s.svc.Issue(s.ctx, input)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("compiler errors pass through", func() {
		s.subjects.EXPECT().SubjectExists(gomock.Any(), "alice").Return(true, nil)
		s.compiler.EXPECT().Compile(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "must provide at least one condition"))

		_, err := s.svc.Issue(s.ctx, input)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing issuer", func() {
		in := input
		in.Issuer = id.PrincipalID{}
		_, err := s.svc.Issue(s.ctx, in)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("an issue that cannot be audited stores nothing", func() {
		s.subjects.EXPECT().SubjectExists(gomock.Any(), "alice").Return(true, nil)
		s.compiler.EXPECT().Compile(gomock.Any(), input.Conditions).Return([]models.Spec{attendance80}, nil)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))
		before, err := s.store.ListBySubject(s.ctx, "alice")
		s.Require().NoError(err)

		_, err = s.svc.Issue(s.ctx, input)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		after, err := s.store.ListBySubject(s.ctx, "alice")
		s.Require().NoError(err)
		s.Len(after, len(before))
	})

	s.Run("missing payload key", func() {
		in := input
		in.PayloadKey = ""
		_, err := s.svc.Issue(s.ctx, in)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestReevaluate() {
	s.Run("meets attendance and unlocks", func() {
		cert := s.seed("alice", attendance80)
		s.ledger.EXPECT().Chain(gomock.Any(), ledger.ChainKey{Subject: "alice", Category: "Attendance"}).
			Return(chainOf("alice", "Attendance", "60", "85"), nil)
		s.expectAudit(audit.EventCertificateUnlocked)

		res, err := s.svc.Reevaluate(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusUnlocked, res.Status)
		s.True(res.Unlocked)
		s.Require().Len(res.Conditions, 1)
		s.Equal("85", res.Conditions[0].Current)
		s.True(res.Conditions[0].Met)

		again, err := s.svc.Reevaluate(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.False(again.Changed)
		s.Equal(models.StatusUnlocked, again.Status)
	})

	s.Run("records progress without unlocking and is idempotent", func() {
		cert := s.seed("bob", attendance80, gradeB)
		s.ledger.EXPECT().Chain(gomock.Any(), ledger.ChainKey{Subject: "bob", Category: "Attendance"}).
			Return(chainOf("bob", "Attendance", "70"), nil).Times(2)
		s.ledger.EXPECT().Chain(gomock.Any(), ledger.ChainKey{Subject: "bob", Category: "Grade"}).
			Return(nil, nil).Times(2)

		first, err := s.svc.Reevaluate(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.True(first.Changed)
		s.Equal(models.StatusLocked, first.Status)
		s.Equal("70", first.Conditions[0].Current)
		s.False(first.Conditions[1].Met)

		second, err := s.svc.Reevaluate(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.False(second.Changed)
		s.Equal(first.Conditions, second.Conditions)
	})

	s.Run("time conditions need no ledger reads", func() {
		cert := s.seed("carol", futureDate)
		res, err := s.svc.Reevaluate(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusLocked, res.Status)
		s.False(res.Conditions[0].Met)
	})

	s.Run("ledger failure is internal", func() {
		cert := s.seed("dave", gradeB)
		s.ledger.EXPECT().Chain(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

		_, err := s.svc.Reevaluate(s.ctx, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("unknown certificate", func() {
		_, err := s.svc.Reevaluate(s.ctx, id.CertificateID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestApprove() {
	s.Run("faculty approval unlocks a single-condition certificate", func() {
		cert := s.seed("alice", openApproval)
		s.expectAudit(audit.EventConditionApproved, audit.EventCertificateUnlocked)

		status, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.Require().NoError(err)
		s.Equal(models.StatusUnlocked, status)

		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal("Approved by prof.smith at 2026-05-01T12:00:00Z", stored.Conditions[0].Current)
	})

	s.Run("approving twice is a no-op", func() {
		cert := s.seed("alice", openApproval, futureDate)
		s.expectAudit(audit.EventConditionApproved)

		status, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.Require().NoError(err)
		s.Equal(models.StatusLocked, status)

		status, err = s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.admin)
		s.Require().NoError(err)
		s.Equal(models.StatusLocked, status)
	})

	s.Run("students cannot approve", func() {
		cert := s.seed("alice", openApproval)
		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.student)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.False(stored.Conditions[0].Met)
	})

	s.Run("targeted approvals are exclusive", func() {
		other := id.PrincipalID(uuid.New())
		targeted := openApproval
		targeted.TargetRecipient = &other
		cert := s.seed("alice", targeted)

		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.admin)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("missing kind is not found", func() {
		cert := s.seed("alice", pastDate)
		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("non-approval kinds cannot be approved", func() {
		cert := s.seed("alice", pastDate)
		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindTime, s.faculty)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown certificate", func() {
		_, err := s.svc.Approve(s.ctx, id.CertificateID(uuid.New()), models.KindApproval, s.faculty)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("the target's approval lands on their own condition", func() {
		mine := s.faculty.ID
		targeted := openApproval
		targeted.TargetRecipient = &mine
		cert := s.seed("alice", openApproval, targeted)
		s.expectAudit(audit.EventConditionApproved, audit.EventConditionApproved, audit.EventCertificateUnlocked)

		status, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.Require().NoError(err)
		s.Equal(models.StatusLocked, status)
		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.False(stored.Conditions[0].Met)
		s.True(stored.Conditions[1].Met)

		jones := approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "prof.jones", Role: principal.RoleFaculty}
		status, err = s.svc.Approve(s.ctx, cert.ID, models.KindApproval, jones)
		s.Require().NoError(err)
		s.Equal(models.StatusUnlocked, status)
	})

	s.Run("an approval that cannot be audited is not saved", func() {
		cert := s.seed("alice", openApproval)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))

		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.False(stored.Conditions[0].Met)
		s.Equal(models.StatusLocked, stored.Status)
	})

	s.Run("an unlock that cannot be audited is not saved", func() {
		cert := s.seed("alice", openApproval)
		s.expectAudit(audit.EventConditionApproved)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))

		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.False(stored.Conditions[0].Met)
		s.Equal(models.StatusLocked, stored.Status)
	})
}

func (s *ServiceSuite) TestConcurrentApproveAndReevaluate() {
	var approvals, unlocks atomic.Int32
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		switch e.Action {
		case string(audit.EventConditionApproved):
			approvals.Add(1)
		case string(audit.EventCertificateUnlocked):
			unlocks.Add(1)
		}
		return nil
	}).AnyTimes()

	const rounds = 50
	for range rounds {
		cert := s.seed("alice", pastDate, openApproval)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
			s.NoError(err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.svc.Reevaluate(s.ctx, cert.ID)
			s.NoError(err)
		}()
		wg.Wait()

		stored, err := s.store.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusUnlocked, stored.Status)
		for _, cond := range stored.Conditions {
			s.True(cond.Met, "condition %s lost its update", cond.Kind)
		}
	}
	s.Equal(int32(rounds), approvals.Load())
	s.Equal(int32(rounds), unlocks.Load(), "exactly one unlock per certificate")
}

func (s *ServiceSuite) TestPendingApprovals() {
	target := id.PrincipalID(uuid.New())
	targeted := openApproval
	targeted.TargetRecipient = &target
	open := s.seed("alice", openApproval)
	mine := s.seed("bob", targeted)
	s.seed("carol", pastDate)

	s.Run("faculty see open approvals only", func() {
		pending, err := s.svc.PendingApprovals(s.ctx, s.faculty)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(open.ID, pending[0].CertificateID)
	})

	s.Run("the target sees their own", func() {
		actor := approval.Actor{ID: target, Username: "prof.jones", Role: principal.RoleFaculty}
		pending, err := s.svc.PendingApprovals(s.ctx, actor)
		s.Require().NoError(err)
		ids := []id.CertificateID{}
		for _, p := range pending {
			ids = append(ids, p.CertificateID)
		}
		s.ElementsMatch([]id.CertificateID{open.ID, mine.ID}, ids)
	})

	s.Run("students see nothing", func() {
		pending, err := s.svc.PendingApprovals(s.ctx, s.student)
		s.Require().NoError(err)
		s.Empty(pending)
		s.NotNil(pending)
	})
}

func (s *ServiceSuite) TestReleaseKey() {
	s.Run("locked certificates keep their key", func() {
		cert := s.seed("alice", futureDate)
		_, err := s.svc.ReleaseKey(s.ctx, cert.ID, s.student)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("subject receives the key once unlocked", func() {
		cert := s.seed("alice", openApproval)
		s.expectAudit(audit.EventConditionApproved, audit.EventCertificateUnlocked, audit.EventKeyReleased)
		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.Require().NoError(err)

		key, err := s.svc.ReleaseKey(s.ctx, cert.ID, s.student)
		s.Require().NoError(err)
		s.Equal("aes-key-123", key)
	})

	s.Run("strangers are refused", func() {
		cert := s.seed("alice", openApproval)
		stranger := approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "bob", Role: principal.RoleStudent}
		_, err := s.svc.ReleaseKey(s.ctx, cert.ID, stranger)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("no audit record, no key", func() {
		cert := s.seed("alice", openApproval)
		s.expectAudit(audit.EventConditionApproved, audit.EventCertificateUnlocked)
		_, err := s.svc.Approve(s.ctx, cert.ID, models.KindApproval, s.faculty)
		s.Require().NoError(err)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))

		key, err := s.svc.ReleaseKey(s.ctx, cert.ID, s.student)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.Empty(key)
	})
}

func (s *ServiceSuite) TestGet() {
	cert := s.seed("alice", pastDate)

	s.Run("subject", func() {
		_, err := s.svc.Get(s.ctx, cert.ID, s.student)
		s.NoError(err)
	})

	s.Run("faculty", func() {
		_, err := s.svc.Get(s.ctx, cert.ID, approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "prof.jones", Role: principal.RoleFaculty})
		s.NoError(err)
	})

	s.Run("another student", func() {
		_, err := s.svc.Get(s.ctx, cert.ID, approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "bob", Role: principal.RoleStudent})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("public view needs no actor", func() {
		found, err := s.svc.GetPublic(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(cert.ID, found.ID)
	})
}

func (s *ServiceSuite) TestDelete() {
	s.Run("removes the certificate once", func() {
		cert := s.seed("alice", pastDate)
		s.expectAudit(audit.EventCertificateDeleted)

		s.Require().NoError(s.svc.Delete(s.ctx, cert.ID, s.admin))
		_, err := s.svc.GetPublic(s.ctx, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		err = s.svc.Delete(s.ctx, cert.ID, s.admin)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("a delete that cannot be audited keeps the certificate", func() {
		cert := s.seed("alice", pastDate)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))

		err := s.svc.Delete(s.ctx, cert.ID, s.admin)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		_, err = s.svc.GetPublic(s.ctx, cert.ID)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestReevaluateSubject() {
	mine := s.seed("alice", pastDate)
	pending := s.seed("alice", futureDate)
	other := s.seed("bob", pastDate)
	s.expectAudit(audit.EventCertificateUnlocked)

	s.Require().NoError(s.svc.HandleRecordAppended(s.ctx, ledger.RecordAppended{Subject: "alice", Category: "Grade"}))

	for certID, want := range map[id.CertificateID]models.Status{
		mine.ID:    models.StatusUnlocked,
		pending.ID: models.StatusLocked,
		other.ID:   models.StatusLocked,
	} {
		cert, err := s.store.FindByID(s.ctx, certID)
		s.Require().NoError(err)
		s.Equal(want, cert.Status)
	}
}

func (s *ServiceSuite) TestReevaluateLocked() {
	s.seed("alice", pastDate)
	s.seed("bob", pastDate)
	s.seed("carol", futureDate)
	s.expectAudit(audit.EventCertificateUnlocked, audit.EventCertificateUnlocked)

	visited, unlocked, err := s.svc.ReevaluateLocked(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, visited)
	s.Equal(2, unlocked)

	visited, unlocked, err = s.svc.ReevaluateLocked(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, visited)
	s.Equal(0, unlocked)
}

func TestService_StoreFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	sealer, err := keyseal.NewEphemeral()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(st, mocks.NewMockCompiler(ctrl), mocks.NewMockLedger(ctrl), sealer,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()
	certID := id.CertificateID(uuid.New())
	actor := approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "admin", Role: principal.RoleAdmin}

	t.Run("load failure is internal", func(t *testing.T) {
		st.EXPECT().FindByID(gomock.Any(), certID).Return(nil, errors.New("db down"))
		_, err := svc.Get(ctx, certID, actor)
		if !dErrors.HasCode(err, dErrors.CodeInternal) {
			t.Fatalf("expected internal error, got %v", err)
		}
	})

	t.Run("listing failure is internal", func(t *testing.T) {
		st.EXPECT().ListAll(gomock.Any()).Return(nil, errors.New("db down"))
		_, err := svc.ListAll(ctx)
		if !dErrors.HasCode(err, dErrors.CodeInternal) {
			t.Fatalf("expected internal error, got %v", err)
		}
	})

	t.Run("approval runs inside the store transaction", func(t *testing.T) {
		st.EXPECT().RunInTx(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		})
		st.EXPECT().FindByIDForUpdate(gomock.Any(), certID).Return(nil, errors.New("lock timeout"))

		_, err := svc.Approve(ctx, certID, models.KindApproval, actor)
		if !dErrors.HasCode(err, dErrors.CodeInternal) {
			t.Fatalf("expected internal error, got %v", err)
		}
	})

	t.Run("cancelled context never takes the lock", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.Approve(cancelled, certID, models.KindApproval, actor)
		if !dErrors.HasCode(err, dErrors.CodeTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	})
}

func TestService_TxTimeoutBoundsLockWait(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	sealer, err := keyseal.NewEphemeral()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(st, mocks.NewMockCompiler(ctrl), mocks.NewMockLedger(ctrl), sealer,
		WithTxTimeout(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	certID := id.CertificateID(uuid.New())
	actor := approval.Actor{ID: id.PrincipalID(uuid.New()), Username: "admin", Role: principal.RoleAdmin}

	entered := make(chan struct{})
	release := make(chan struct{})
	st.EXPECT().RunInTx(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, func(context.Context) error) error {
		close(entered)
		<-release
		return nil
	})

	holder := make(chan struct{})
	go func() {
		defer close(holder)
		_, _ = svc.Approve(context.Background(), certID, models.KindApproval, actor)
	}()
	<-entered

	start := time.Now()
	_, err = svc.Approve(context.Background(), certID, models.KindApproval, actor)
	if !dErrors.HasCode(err, dErrors.CodeTimeout) {
		t.Fatalf("expected timeout while the certificate lock is held, got %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("lock wait ignored the tx timeout: %s", waited)
	}

	close(release)
	<-holder
}
