package certificate

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	Status() int
	GetResponseField(field string) (any, error)
	Save(name, value string)
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &certificateSteps{tc: tc}

	ctx.Step(`^I issue a certificate "([^"]*)" for "([^"]*)" with conditions "([^"]*)"$`, steps.issue)
	ctx.Step(`^I issue a certificate "([^"]*)" for "([^"]*)" requiring approval$`, steps.issueWithApproval)
	ctx.Step(`^I record "([^"]*)" = "([^"]*)" for "([^"]*)"$`, steps.record)
	ctx.Step(`^I approve the certificate$`, steps.approve)
	ctx.Step(`^the certificate should eventually be "([^"]*)"$`, steps.eventuallyStatus)
	ctx.Step(`^the record chain "([^"]*)" for "([^"]*)" should verify$`, steps.chainVerifies)
}

type certificateSteps struct {
	tc TestContext
}

func (s *certificateSteps) issue(_ context.Context, title, subject, conditions string) error {
	return s.issueRequest(map[string]any{
		"title":                 title,
		"subject":               subject,
		"free_text":             conditions,
		"encrypted_payload_ref": "ipfs://e2e-" + subject,
		"payload_key":           "e2e-key",
	})
}

func (s *certificateSteps) issueWithApproval(_ context.Context, title, subject string) error {
	return s.issueRequest(map[string]any{
		"title":                 title,
		"subject":               subject,
		"require_approval":      true,
		"encrypted_payload_ref": "ipfs://e2e-" + subject,
		"payload_key":           "e2e-key",
	})
}

func (s *certificateSteps) issueRequest(body map[string]any) error {
	if err := s.tc.POST("/certificates", body); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("issue returned %d", s.tc.Status())
	}
	certID, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("certificate", fmt.Sprint(certID))
	return nil
}

func (s *certificateSteps) record(_ context.Context, category, value, subject string) error {
	if err := s.tc.POST("/records", map[string]string{
		"subject":  subject,
		"category": category,
		"value":    value,
	}); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("record append returned %d", s.tc.Status())
	}
	return nil
}

func (s *certificateSteps) approve(context.Context) error {
	if err := s.tc.POST("/certificates/{certificate}/approve/approval", nil); err != nil {
		return err
	}
	if s.tc.Status() != 200 {
		return fmt.Errorf("approve returned %d", s.tc.Status())
	}
	return nil
}

// eventuallyStatus polls because re-evaluation after an append is asynchronous.
func (s *certificateSteps) eventuallyStatus(_ context.Context, want string) error {
	deadline := time.Now().Add(10 * time.Second)
	var got any
	for time.Now().Before(deadline) {
		if err := s.tc.GET("/public/certificates/{certificate}"); err != nil {
			return err
		}
		var err error
		got, err = s.tc.GetResponseField("status")
		if err != nil {
			return err
		}
		if fmt.Sprint(got) == want {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("certificate status %v, want %s", got, want)
}

func (s *certificateSteps) chainVerifies(_ context.Context, category, subject string) error {
	if err := s.tc.GET(fmt.Sprintf("/records/%s/%s/verify", subject, category)); err != nil {
		return err
	}
	valid, err := s.tc.GetResponseField("valid")
	if err != nil {
		return err
	}
	if valid != true {
		return fmt.Errorf("chain %s/%s did not verify", subject, category)
	}
	return nil
}
