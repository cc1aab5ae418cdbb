package compiler

//go:generate mockgen -source=compiler.go -destination=mocks/mocks.go -package=mocks Directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"trustcert/internal/certificate/compiler/mocks"
	"trustcert/internal/certificate/models"
	principal "trustcert/internal/principal/models"
	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

func TestParseFreeText(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []models.Spec
	}{
		{
			name: "iso date",
			text: "release after 2020-01-01",
			want: []models.Spec{{Kind: models.KindTime, Target: "2020-01-01", Description: "Release after 2020-01-01"}},
		},
		{
			name: "long-form date is normalized",
			text: "Release After 15 June 2026",
			want: []models.Spec{{Kind: models.KindTime, Target: "2026-06-15", Description: "Release after 2026-06-15"}},
		},
		{
			name: "unknown month contributes nothing",
			text: "after 15 juneish 2026",
			want: nil,
		},
		{
			name: "attendance with percent",
			text: "release if attendance > 80%",
			want: []models.Spec{{Kind: models.KindAttendance, Target: "80", Description: "Attendance greater than 80%"}},
		},
		{
			name: "grade token is uppercased",
			text: "grade>b2",
			want: []models.Spec{{Kind: models.KindGrade, Target: "B2", Description: "Grade better than B2"}},
		},
		{
			name: "approval defaults to faculty",
			text: "mentor approves",
			want: []models.Spec{{Kind: models.KindApproval, Role: "faculty", Description: "Requires 1 approval from faculty"}},
		},
		{
			name: "approval mentioning admin",
			text: "must be approved by an ADMIN",
			want: []models.Spec{{Kind: models.KindApproval, Role: "admin", Description: "Requires 1 approval from admin"}},
		},
		{
			name: "no recognizable clause",
			text: "whenever you feel like it",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseFreeText(tc.text))
		})
	}
}

func TestParseFreeText_Cumulative(t *testing.T) {
	specs := ParseFreeText("release after 2026-09-01 if attendance > 75 and grade > a, approved by faculty")
	require.Len(t, specs, 4)
	kinds := []models.Kind{specs[0].Kind, specs[1].Kind, specs[2].Kind, specs[3].Kind}
	assert.Equal(t, []models.Kind{models.KindTime, models.KindAttendance, models.KindApproval, models.KindGrade}, kinds)
}

func TestCompile(t *testing.T) {
	ctx := context.Background()
	quiet := WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	profID := id.PrincipalID(uuid.New())

	t.Run("manual date and approval flag are appended", func(t *testing.T) {
		c := New(nil, quiet)
		specs, err := c.Compile(ctx, Input{FreeText: "after 2020-01-01", ManualDate: "2026-07-01T09:00", RequireApproval: true})
		require.NoError(t, err)
		require.Len(t, specs, 3)
		assert.Equal(t, "Release after 2026-07-01T09:00 (Manual Entry)", specs[1].Description)
		assert.Equal(t, models.KindApproval, specs[2].Kind)
		assert.Nil(t, specs[2].TargetRecipient)
	})

	t.Run("targeted approver resolves", func(t *testing.T) {
		dir := mocks.NewMockDirectory(gomock.NewController(t))
		dir.EXPECT().FindByUsername(gomock.Any(), "prof.smith").
			Return(&principal.Principal{ID: profID, Username: "prof.smith", Role: principal.RoleFaculty}, nil)

		specs, err := New(dir, quiet).Compile(ctx, Input{RequireApproval: true, TargetedApprover: " prof.smith "})
		require.NoError(t, err)
		require.Len(t, specs, 1)
		require.NotNil(t, specs[0].TargetRecipient)
		assert.Equal(t, profID, *specs[0].TargetRecipient)
		assert.Equal(t, "Requires Approval from prof.smith", specs[0].Description)
	})

	t.Run("unknown approver falls back to open approval", func(t *testing.T) {
		dir := mocks.NewMockDirectory(gomock.NewController(t))
		dir.EXPECT().FindByUsername(gomock.Any(), "ghost").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "principal not found"))

		specs, err := New(dir, quiet).Compile(ctx, Input{RequireApproval: true, TargetedApprover: "ghost"})
		require.NoError(t, err)
		assert.Nil(t, specs[0].TargetRecipient)
		assert.Equal(t, "Requires Faculty Approval", specs[0].Description)
	})

	t.Run("student approver falls back to open approval", func(t *testing.T) {
		dir := mocks.NewMockDirectory(gomock.NewController(t))
		dir.EXPECT().FindByUsername(gomock.Any(), "bob").
			Return(&principal.Principal{ID: id.PrincipalID(uuid.New()), Username: "bob", Role: principal.RoleStudent}, nil)

		specs, err := New(dir, quiet).Compile(ctx, Input{RequireApproval: true, TargetedApprover: "bob"})
		require.NoError(t, err)
		assert.Nil(t, specs[0].TargetRecipient)
	})

	t.Run("directory failure is internal", func(t *testing.T) {
		dir := mocks.NewMockDirectory(gomock.NewController(t))
		dir.EXPECT().FindByUsername(gomock.Any(), "prof.smith").Return(nil, errors.New("db down"))

		_, err := New(dir, quiet).Compile(ctx, Input{RequireApproval: true, TargetedApprover: "prof.smith"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})

	t.Run("approver ignored without the approval flag", func(t *testing.T) {
		dir := mocks.NewMockDirectory(gomock.NewController(t))
		_, err := New(dir, quiet).Compile(ctx, Input{TargetedApprover: "prof.smith"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("nothing compiled names the inputs", func(t *testing.T) {
		_, err := New(nil, quiet).Compile(ctx, Input{FreeText: "soon"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.ErrorContains(t, err, "manual_date")
		assert.ErrorContains(t, err, "require_approval")
	})
}

func TestParseFreeText_DateProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("iso and long-form dates compile to the same target", prop.ForAll(
		func(days int, filler string) bool {
			d := base.AddDate(0, 0, days)
			iso := ParseFreeText(fmt.Sprintf("%s release after %s", filler, d.Format(time.DateOnly)))
			long := ParseFreeText(fmt.Sprintf("%s release after %d %s %d", filler, d.Day(), d.Month(), d.Year()))
			return len(iso) == 1 && len(long) == 1 &&
				iso[0].Kind == models.KindTime &&
				iso[0].Target == d.Format(time.DateOnly) &&
				long[0].Target == iso[0].Target
		},
		gen.IntRange(0, 365*60),
		gen.OneConstOf("", "please", "note:"),
	))

	properties.TestingRun(t)
}
