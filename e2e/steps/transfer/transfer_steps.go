package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	StatusCode() int
	Body() []byte
	GetResponseField(field string) (any, error)
	Save(name, value string)
	Expand(s string) string
	TenantID(name string) string
}

// RegisterSteps registers transfer workflow step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &transferSteps{tc: tc}

	ctx.Step(`^I request a transfer of "([^"]*)" items "([^"]*)" to "([^"]*)"$`, steps.requestTransfer)
	ctx.Step(`^I save the transfer id$`, steps.saveTransferID)
	ctx.Step(`^I claim the transfer$`, steps.claim)
	ctx.Step(`^I accept the transfer$`, steps.accept)
	ctx.Step(`^I reject the transfer with reason "([^"]*)"$`, steps.reject)
	ctx.Step(`^I view the transfer$`, steps.view)

	ctx.Step(`^the incoming list should contain the transfer$`, steps.incomingShouldContain)
	ctx.Step(`^the timeline should have (\d+) entries$`, steps.timelineShouldHave)
	ctx.Step(`^the item snapshot should name "([^"]*)"$`, steps.snapshotShouldName)
}

type transferSteps struct {
	tc TestContext
}

func (s *transferSteps) requestTransfer(_ context.Context, dataType, items, destination string) error {
	return s.tc.POST("/transfers", map[string]any{
		"destination_tenant_id": s.tc.TenantID(destination),
		"data_type":             dataType,
		"item_ids":              strings.Split(items, ","),
	})
}

func (s *transferSteps) saveTransferID(_ context.Context) error {
	v, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	transferID, ok := v.(string)
	if !ok || transferID == "" {
		return fmt.Errorf("response has no transfer id: %s", s.tc.Body())
	}
	s.tc.Save("transfer_id", transferID)
	return nil
}

func (s *transferSteps) claim(_ context.Context) error {
	return s.tc.POST("/transfers/{transfer_id}/claim", nil)
}

func (s *transferSteps) accept(_ context.Context) error {
	return s.tc.POST("/transfers/{transfer_id}/accept", nil)
}

func (s *transferSteps) reject(_ context.Context, reason string) error {
	return s.tc.POST("/transfers/{transfer_id}/reject", map[string]string{"reason": reason})
}

func (s *transferSteps) view(_ context.Context) error {
	return s.tc.GET("/transfers/{transfer_id}")
}

func (s *transferSteps) incomingShouldContain(_ context.Context) error {
	if err := s.tc.GET("/transfers/incoming"); err != nil {
		return err
	}
	var body struct {
		Transfers []struct {
			ID string `json:"id"`
		} `json:"transfers"`
	}
	if err := json.Unmarshal(s.tc.Body(), &body); err != nil {
		return err
	}
	want := s.tc.Expand("{transfer_id}")
	for _, t := range body.Transfers {
		if t.ID == want {
			return nil
		}
	}
	return fmt.Errorf("transfer %s not in incoming list", want)
}

func (s *transferSteps) timelineShouldHave(_ context.Context, n int) error {
	v, err := s.tc.GetResponseField("timeline")
	if err != nil {
		return err
	}
	entries, ok := v.([]any)
	if !ok {
		return fmt.Errorf("timeline is not a list: %s", s.tc.Body())
	}
	if len(entries) != n {
		return fmt.Errorf("expected %d timeline entries, got %d", n, len(entries))
	}
	return nil
}

func (s *transferSteps) snapshotShouldName(_ context.Context, name string) error {
	v, err := s.tc.GetResponseField("item_snapshot")
	if err != nil {
		return err
	}
	items, _ := v.([]any)
	for _, item := range items {
		if m, ok := item.(map[string]any); ok && m["display_name"] == name {
			return nil
		}
	}
	return fmt.Errorf("no snapshot item named %q: %s", name, s.tc.Body())
}
