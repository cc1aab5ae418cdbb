// Package compiler extracts structured release conditions from free text and
// explicit form fields. It is a fixed set of independent pattern recognizers:
// one input may match several, and every match is kept.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"trustcert/internal/certificate/models"
	principal "trustcert/internal/principal/models"
	dErrors "trustcert/pkg/domain-errors"
)

var (
	isoDatePattern    = regexp.MustCompile(`after\s+(\d{4}-\d{2}-\d{2})`)
	longDatePattern   = regexp.MustCompile(`after\s+(\d{1,2})\s+([a-z]+)\s+(\d{4})`)
	attendancePattern = regexp.MustCompile(`attendance\s*>\s*(\d+)%?`)
	gradePattern      = regexp.MustCompile(`grade\s*>\s*([a-z0-9]+)`)
)

const longDateLayout = "2 January 2006"

// Input is everything a creation request contributes to the condition set.
type Input struct {
	FreeText         string
	ManualDate       string
	RequireApproval  bool
	TargetedApprover string
}

// Directory resolves a targeted approver's username.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*principal.Principal, error)
}

type Compiler struct {
	directory Directory
	logger    *slog.Logger
}

type Option func(*Compiler)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

func New(directory Directory, opts ...Option) *Compiler {
	c := &Compiler{directory: directory, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile merges free-text matches, the manual date and the approval flag, in
// that order. Zero conditions is a validation error.
func (c *Compiler) Compile(ctx context.Context, in Input) ([]models.Spec, error) {
	specs := ParseFreeText(in.FreeText)

	if manual := strings.TrimSpace(in.ManualDate); manual != "" {
		specs = append(specs, models.Spec{
			Kind:        models.KindTime,
			Target:      manual,
			Description: fmt.Sprintf("Release after %s (Manual Entry)", manual),
		})
	}

	if in.RequireApproval {
		spec, err := c.approvalSpec(ctx, strings.TrimSpace(in.TargetedApprover))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation,
			"must provide at least one condition: free_text with a recognized clause, manual_date, or require_approval")
	}
	return specs, nil
}

func (c *Compiler) approvalSpec(ctx context.Context, username string) (models.Spec, error) {
	spec := models.Spec{
		Kind:        models.KindApproval,
		Role:        models.ApprovalRoleFaculty,
		Description: "Requires Faculty Approval",
	}
	if username == "" || c.directory == nil {
		return spec, nil
	}

	p, err := c.directory.FindByUsername(ctx, username)
	switch {
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		c.logger.InfoContext(ctx, "targeted approver not found, using open approval", "username", username)
		return spec, nil
	case err != nil:
		return models.Spec{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve targeted approver")
	case !p.CanApprove():
		c.logger.InfoContext(ctx, "targeted approver cannot approve, using open approval",
			"username", username,
			"role", p.Role,
		)
		return spec, nil
	}

	target := p.ID
	spec.TargetRecipient = &target
	spec.Description = fmt.Sprintf("Requires Approval from %s", p.Username)
	return spec, nil
}

// ParseFreeText runs every recognizer over text. Each pattern contributes at
// most one condition.
func ParseFreeText(text string) []models.Spec {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var specs []models.Spec

	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		specs = append(specs, timeSpec(m[1]))
	}

	if m := longDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse(longDateLayout, m[1]+" "+m[2]+" "+m[3]); err == nil {
			specs = append(specs, timeSpec(d.Format(time.DateOnly)))
		}
	}

	if m := attendancePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			specs = append(specs, models.Spec{
				Kind:        models.KindAttendance,
				Target:      strconv.Itoa(n),
				Description: fmt.Sprintf("Attendance greater than %d%%", n),
			})
		}
	}

	if strings.Contains(text, "approve") {
		role := models.ApprovalRoleFaculty
		if strings.Contains(text, "admin") {
			role = models.ApprovalRoleAdmin
		}
		specs = append(specs, models.Spec{
			Kind:        models.KindApproval,
			Role:        role,
			Description: fmt.Sprintf("Requires 1 approval from %s", role),
		})
	}

	if m := gradePattern.FindStringSubmatch(text); m != nil {
		grade := strings.ToUpper(m[1])
		specs = append(specs, models.Spec{
			Kind:        models.KindGrade,
			Target:      grade,
			Description: fmt.Sprintf("Grade better than %s", grade),
		})
	}

	return specs
}

func timeSpec(date string) models.Spec {
	return models.Spec{
		Kind:        models.KindTime,
		Target:      date,
		Description: fmt.Sprintf("Release after %s", date),
	}
}
