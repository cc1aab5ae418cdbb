package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcert/internal/certificate/approval"
	"trustcert/internal/certificate/compiler"
	"trustcert/internal/certificate/models"
	"trustcert/internal/certificate/service"
	certstore "trustcert/internal/certificate/store"
	"trustcert/internal/ledger/events/inprocess"
	ledger "trustcert/internal/ledger/models"
	ledgerservice "trustcert/internal/ledger/service"
	ledgerstore "trustcert/internal/ledger/store"
	principalservice "trustcert/internal/principal/service"
	principalstore "trustcert/internal/principal/store"
	"trustcert/pkg/platform/keyseal"
	"trustcert/pkg/requestcontext"
	"trustcert/pkg/testutil"
)

type engine struct {
	certs      *service.Service
	ledger     *ledgerservice.Service
	principals *principalservice.Service
	faculty    approval.Actor
}

func newEngine(t *testing.T, ledgerOpts ...ledgerservice.Option) *engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	principals := principalservice.New(principalstore.NewInMemoryStore(), principalservice.WithLogger(logger))
	require.NoError(t, principals.SeedPrincipals(ctx, principalservice.DemoSeeds))
	prof, err := principals.FindByUsername(ctx, "prof.smith")
	require.NoError(t, err)

	ledgerOpts = append(ledgerOpts, ledgerservice.WithLogger(logger), ledgerservice.WithSubjectDirectory(principals))
	records := ledgerservice.New(ledgerstore.NewInMemoryStore(), ledgerOpts...)

	sealer, err := keyseal.NewEphemeral()
	require.NoError(t, err)
	certs := service.New(certstore.NewInMemoryStore(), compiler.New(principals, compiler.WithLogger(logger)), records, sealer,
		service.WithSubjectDirectory(principals),
		service.WithLogger(logger),
	)
	return &engine{
		certs:      certs,
		ledger:     records,
		principals: principals,
		faculty:    approval.Actor{ID: prof.ID, Username: prof.Username, Role: prof.Role},
	}
}

func (e *engine) issue(t *testing.T, ctx context.Context, in compiler.Input) *models.Certificate {
	t.Helper()
	cert, err := e.certs.Issue(ctx, service.IssueInput{
		Title:      "BSc Computer Science",
		Subject:    "alice",
		Conditions: in,
		PayloadRef: "ipfs://bafy",
		PayloadKey: "aes-key",
		Issuer:     e.faculty.ID,
	})
	require.NoError(t, err)
	return cert
}

func TestScenario_PastDateUnlocks(t *testing.T) {
	e := newEngine(t)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))

	testutil.Given(t, "a certificate compiled from 'release after 2020-01-01'", func(t *testing.T) {
		cert := e.issue(t, ctx, compiler.Input{FreeText: "release after 2020-01-01"})
		require.Len(t, cert.Conditions, 1)
		assert.Equal(t, models.KindTime, cert.Conditions[0].Kind)
		assert.Equal(t, "2020-01-01", cert.Conditions[0].Target)
		assert.Equal(t, models.StatusLocked, cert.Status)

		testutil.When(t, "it is re-evaluated later", func(t *testing.T) {
			res, err := e.certs.Reevaluate(ctx, cert.ID)
			require.NoError(t, err)

			testutil.Then(t, "the condition is met and the certificate unlocked", func(t *testing.T) {
				assert.True(t, res.Conditions[0].Met)
				assert.Equal(t, models.StatusUnlocked, res.Status)
			})
		})
	})
}

func TestScenario_AttendanceRecordsDriveRelease(t *testing.T) {
	e := newEngine(t)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	key := ledger.ChainKey{Subject: "alice", Category: ledger.CategoryAttendance}

	testutil.Given(t, "a certificate requiring attendance > 80 and a 75 on record", func(t *testing.T) {
		cert := e.issue(t, ctx, compiler.Input{FreeText: "release if attendance > 80"})
		_, err := e.ledger.Append(ctx, key, "75", e.faculty.ID)
		require.NoError(t, err)

		res, err := e.certs.Reevaluate(ctx, cert.ID)
		require.NoError(t, err)
		assert.False(t, res.Conditions[0].Met)
		assert.Equal(t, "75", res.Conditions[0].Current)
		assert.Equal(t, models.StatusLocked, res.Status)

		testutil.When(t, "95 is appended and the certificate re-evaluated", func(t *testing.T) {
			_, err := e.ledger.Append(ctx, key, "95", e.faculty.ID)
			require.NoError(t, err)
			res, err := e.certs.Reevaluate(ctx, cert.ID)
			require.NoError(t, err)

			testutil.Then(t, "the condition is met and the certificate unlocked", func(t *testing.T) {
				assert.True(t, res.Conditions[0].Met)
				assert.Equal(t, models.StatusUnlocked, res.Status)
			})
		})
	})
}

func TestScenario_GradeChainLinks(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	key := ledger.ChainKey{Subject: "alice", Category: ledger.CategoryGrade}

	testutil.When(t, "two grades are appended", func(t *testing.T) {
		first, err := e.ledger.Append(ctx, key, "85", e.faculty.ID)
		require.NoError(t, err)
		second, err := e.ledger.Append(ctx, key, "90", e.faculty.ID)
		require.NoError(t, err)

		testutil.Then(t, "the second links to the first", func(t *testing.T) {
			assert.Equal(t, ledger.GenesisHash, first.PreviousHash)
			assert.Equal(t, first.DataHash, second.PreviousHash)

			res, err := e.ledger.Verify(ctx, key)
			require.NoError(t, err)
			assert.True(t, res.Valid)
		})
	})
}

func TestScenario_ApprovalAloneDoesNotUnlock(t *testing.T) {
	e := newEngine(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	testutil.Given(t, "a future date and an approval", func(t *testing.T) {
		cert := e.issue(t, ctx, compiler.Input{FreeText: "release after 2026-12-31", RequireApproval: true})
		require.Len(t, cert.Conditions, 2)

		testutil.When(t, "faculty approve", func(t *testing.T) {
			status, err := e.certs.Approve(ctx, cert.ID, models.KindApproval, e.faculty)
			require.NoError(t, err)

			testutil.Then(t, "the certificate stays locked", func(t *testing.T) {
				assert.Equal(t, models.StatusLocked, status)
			})
		})

		testutil.When(t, "the date passes", func(t *testing.T) {
			later := requestcontext.WithTime(context.Background(), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
			res, err := e.certs.Reevaluate(later, cert.ID)
			require.NoError(t, err)

			testutil.Then(t, "the certificate unlocks", func(t *testing.T) {
				assert.Equal(t, models.StatusUnlocked, res.Status)
			})
		})
	})
}

func TestScenario_TargetedAndOpenApprovals(t *testing.T) {
	e := newEngine(t)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	jones, err := e.principals.FindByUsername(ctx, "prof.jones")
	require.NoError(t, err)
	other := approval.Actor{ID: jones.ID, Username: jones.Username, Role: jones.Role}

	testutil.Given(t, "an open faculty approval and one assigned to prof.smith", func(t *testing.T) {
		cert := e.issue(t, ctx, compiler.Input{FreeText: "faculty approve", RequireApproval: true, TargetedApprover: "prof.smith"})
		require.Len(t, cert.Conditions, 2)

		testutil.When(t, "prof.smith approves", func(t *testing.T) {
			status, err := e.certs.Approve(ctx, cert.ID, models.KindApproval, e.faculty)
			require.NoError(t, err)
			assert.Equal(t, models.StatusLocked, status)

			testutil.Then(t, "his own condition is met and the open one is still pending", func(t *testing.T) {
				found, err := e.certs.GetPublic(ctx, cert.ID)
				require.NoError(t, err)
				for _, cond := range found.Conditions {
					assert.Equal(t, cond.IsTargeted(), cond.Met, "targeted=%v", cond.IsTargeted())
				}
			})
		})

		testutil.When(t, "prof.jones approves", func(t *testing.T) {
			status, err := e.certs.Approve(ctx, cert.ID, models.KindApproval, other)
			require.NoError(t, err)

			testutil.Then(t, "the certificate unlocks", func(t *testing.T) {
				assert.Equal(t, models.StatusUnlocked, status)
			})
		})
	})
}

func TestScenario_AppendNotificationReevaluates(t *testing.T) {
	var certs *service.Service
	dispatcher := inprocess.New(func(ctx context.Context, event ledger.RecordAppended) error {
		return certs.HandleRecordAppended(ctx, event)
	}, inprocess.WithWorkers(1))
	e := newEngine(t, ledgerservice.WithNotifier(dispatcher))
	certs = e.certs

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	testutil.Given(t, "a certificate waiting on a grade of B", func(t *testing.T) {
		cert := e.issue(t, ctx, compiler.Input{FreeText: "grade > b"})

		testutil.When(t, "faculty record a B", func(t *testing.T) {
			_, err := e.ledger.Append(ctx, ledger.ChainKey{Subject: "alice", Category: ledger.CategoryGrade}, "B", e.faculty.ID)
			require.NoError(t, err)

			testutil.Then(t, "the certificate unlocks without an explicit re-evaluation", func(t *testing.T) {
				assert.Eventually(t, func() bool {
					found, err := e.certs.GetPublic(ctx, cert.ID)
					return err == nil && found.IsUnlocked()
				}, 2*time.Second, 10*time.Millisecond)
			})
		})
	})
}

func TestScenario_UnknownSubject(t *testing.T) {
	e := newEngine(t)
	_, err := e.certs.Issue(context.Background(), service.IssueInput{
		Title:      "Diploma",
		Subject:    "mallory",
		Conditions: compiler.Input{FreeText: "release after 2020-01-01"},
		PayloadRef: "ipfs://bafy",
		PayloadKey: "k",
		Issuer:     e.faculty.ID,
	})
	require.Error(t, err)

	_, err = e.ledger.Append(context.Background(), ledger.ChainKey{Subject: "prof.smith", Category: ledger.CategoryGrade}, "A", e.faculty.ID)
	require.Error(t, err, "only students carry records")
}
