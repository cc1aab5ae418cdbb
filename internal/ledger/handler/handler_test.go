package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"trustcert/internal/ledger/handler/mocks"
	"trustcert/internal/ledger/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
	"trustcert/pkg/testutil"
)

var (
	facultyID = id.PrincipalID(uuid.MustParse("8a4d8e1c-1111-4f5e-9a52-6f1f0c1d2e01"))
	studentID = id.PrincipalID(uuid.MustParse("8a4d8e1c-2222-4f5e-9a52-6f1f0c1d2e02"))
	fixedTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newRouter(t *testing.T) (*mocks.MockService, http.Handler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), "faculty", "admin")
	r := chi.NewRouter()
	h.Register(r)
	return svc, r
}

func sampleRecord() *models.RecordVersion {
	key := models.ChainKey{Subject: "alice", Category: models.CategoryGrade}
	rec, _ := models.NewRecordVersion(id.RecordID(uuid.New()), key, "A", facultyID, fixedTime, nil)
	return rec
}

func TestHandleAppend(t *testing.T) {
	t.Run("faculty appends a record", func(t *testing.T) {
		svc, router := newRouter(t)
		rec := sampleRecord()
		svc.EXPECT().
			Append(gomock.Any(), models.ChainKey{Subject: "alice", Category: "Grade"}, "A", facultyID).
			Return(rec, nil)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/records", map[string]string{
			"subject": " alice ", "category": "Grade", "value": "A",
		})
		rr := testutil.DoRequest(router, testutil.WithPrincipal(req, facultyID, "faculty"))

		testutil.AssertStatus(t, rr, http.StatusCreated)
		body := testutil.UnmarshalResponse[RecordResponse](t, rr)
		assert.Equal(t, rec.DataHash, body.DataHash)
		assert.Equal(t, models.GenesisHash, body.PreviousHash)
		assert.Equal(t, facultyID.String(), body.Issuer)
	})

	t.Run("students cannot append", func(t *testing.T) {
		_, router := newRouter(t)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/records", map[string]string{
			"subject": "alice", "category": "Grade", "value": "A",
		})
		rr := testutil.DoRequest(router, testutil.WithPrincipal(req, studentID, "student"))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	t.Run("invalid body is rejected before the service", func(t *testing.T) {
		_, router := newRouter(t)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/records", map[string]string{
			"subject": "alice", "category": "", "value": "A",
		})
		rr := testutil.DoRequest(router, testutil.WithPrincipal(req, facultyID, "faculty"))
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, router := newRouter(t)
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/records", "{")
		rr := testutil.DoRequest(router, testutil.WithPrincipal(req, facultyID, "faculty"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("concurrent head change surfaces as conflict", func(t *testing.T) {
		svc, router := newRouter(t)
		svc.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "chain head moved"))
		req := testutil.NewJSONRequest(t, http.MethodPost, "/records", map[string]string{
			"subject": "alice", "category": "Grade", "value": "B",
		})
		rr := testutil.DoRequest(router, testutil.WithPrincipal(req, facultyID, "faculty"))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
	})
}

func TestHandleList(t *testing.T) {
	t.Run("subject reads own records", func(t *testing.T) {
		svc, router := newRouter(t)
		svc.EXPECT().ListBySubject(gomock.Any(), "alice").Return([]*models.RecordVersion{sampleRecord()}, nil)

		req := testutil.NewRequest(t, http.MethodGet, "/records/alice")
		rr := testutil.DoRequest(router, testutil.WithNamedPrincipal(req, studentID, "alice", "student"))

		testutil.AssertStatusOK(t, rr)
		body := testutil.UnmarshalResponse[RecordListResponse](t, rr)
		require.Len(t, body.Records, 1)
		assert.Equal(t, "A", body.Records[0].Value)
	})

	t.Run("student cannot read another subject", func(t *testing.T) {
		_, router := newRouter(t)
		req := testutil.NewRequest(t, http.MethodGet, "/records/bob")
		rr := testutil.DoRequest(router, testutil.WithNamedPrincipal(req, studentID, "alice", "student"))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	t.Run("store failure hides details", func(t *testing.T) {
		svc, router := newRouter(t)
		svc.EXPECT().ListBySubject(gomock.Any(), "bob").
			Return(nil, dErrors.Wrap(errors.New("db down"), dErrors.CodeInternal, "failed to list records"))
		req := testutil.NewRequest(t, http.MethodGet, "/records/bob")
		rr := testutil.DoRequest(router, testutil.WithPrincipal(req, facultyID, "faculty"))
		testutil.AssertStatus(t, rr, http.StatusInternalServerError)
		assert.NotContains(t, rr.Body.String(), "db down")
	})
}

func TestHandleVerify(t *testing.T) {
	svc, router := newRouter(t)
	key := models.ChainKey{Subject: "alice", Category: "Attendance"}
	svc.EXPECT().Verify(gomock.Any(), key).Return(models.VerifyResult{Valid: false, Length: 3, BrokenAt: 2, Reason: "previous hash mismatch"}, nil)

	req := testutil.NewRequest(t, http.MethodGet, "/records/alice/Attendance/verify")
	rr := testutil.DoRequest(router, testutil.WithPrincipal(req, facultyID, "admin"))

	testutil.AssertStatusOK(t, rr)
	body := testutil.UnmarshalResponse[VerifyResponse](t, rr)
	assert.False(t, body.Valid)
	assert.Equal(t, int64(2), body.BrokenAt)
	assert.Equal(t, 3, body.Length)
}
