package vault

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	DELETE(path string) error
	Status() int
	Save(name, value string)
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &vaultSteps{tc: tc}

	ctx.Step(`^I store a vault with a key unlocking in the (past|future)$`, steps.store)
	ctx.Step(`^I release the vault$`, steps.release)
	ctx.Step(`^I delete the vault$`, steps.remove)
}

type vaultSteps struct {
	tc TestContext
}

func (s *vaultSteps) store(_ context.Context, when string) error {
	unlock := time.Now().UTC().Add(-time.Hour)
	if when == "future" {
		unlock = time.Now().UTC().Add(365 * 24 * time.Hour)
	}
	appID := uint64(time.Now().UnixNano())
	if err := s.tc.POST("/vaults", map[string]any{
		"app_id":      appID,
		"payload_ref": "ipfs://e2e-vault",
		"key":         "vault-key",
		"unlock_time": unlock.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("vault store returned %d", s.tc.Status())
	}
	s.tc.Save("vault", strconv.FormatUint(appID, 10))
	return nil
}

func (s *vaultSteps) release(context.Context) error {
	return s.tc.GET("/vaults/{vault}/release")
}

func (s *vaultSteps) remove(context.Context) error {
	return s.tc.DELETE("/vaults/{vault}")
}
