package onboarding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/validation"
)

// Wizard steps.
const (
	StepOrganization = 1
	StepPlan         = 2
	StepPayment      = 3
	StepReview       = 4
)

// Field limits.
const (
	MaxOrgNameLen        = 200
	MaxOrgWebsiteLen     = 500
	MaxOrgDescriptionLen = 2000
)

// StepPatch holds the fields one step may write. Nil fields are left as
// they are in storage.
type StepPatch struct {
	OrgName        *string
	OrgWebsite     *string
	OrgDescription *string
	SelectedTier   *billing.Tier
	BillingCycle   *billing.BillingCycle
}

// SetsPlan reports whether p writes the tier or billing cycle.
func (p StepPatch) SetsPlan() bool {
	return p.SelectedTier != nil || p.BillingCycle != nil
}

// LeavesPaidPlan reports whether p writes a plan other than the one paid
// for on s. Once payment succeeds that is the only plan step 2 may select.
func (p StepPatch) LeavesPaidPlan(s *Session) bool {
	if !p.SetsPlan() {
		return false
	}
	tier, cycle := s.SelectedTier, s.BillingCycle
	if p.SelectedTier != nil {
		tier = *p.SelectedTier
	}
	if p.BillingCycle != nil {
		cycle = *p.BillingCycle
	}
	return tier != s.PaymentTier || cycleOrMonthly(cycle) != cycleOrMonthly(s.PaymentCycle)
}

type organizationStep struct {
	OrgName        *string `json:"orgName"`
	OrgWebsite     *string `json:"orgWebsite"`
	OrgDescription *string `json:"orgDescription"`
}

type planStep struct {
	SelectedTier *string `json:"selectedTier"`
	BillingCycle *string `json:"billingCycle"`
}

// paymentStep has no client-writable fields. Payment state is written by
// the payment bridge and by webhooks only.
type paymentStep struct{}

// DecodeStep parses raw as the schema of step. Fields that belong to other
// steps are rejected so a stale client cannot overwrite later answers.
func DecodeStep(step int, raw json.RawMessage) (StepPatch, error) {
	switch step {
	case StepOrganization:
		var in organizationStep
		if err := decodeStrict(raw, &in); err != nil {
			return StepPatch{}, err
		}
		return organizationPatch(in)
	case StepPlan:
		var in planStep
		if err := decodeStrict(raw, &in); err != nil {
			return StepPatch{}, err
		}
		return planPatch(in)
	case StepPayment:
		var in paymentStep
		if err := decodeStrict(raw, &in); err != nil {
			return StepPatch{}, err
		}
		return StepPatch{}, nil
	default:
		return StepPatch{}, fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
}

func decodeStrict(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Message: describeDecodeError(err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &ValidationError{Message: "trailing data after object"}
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return strings.TrimPrefix(err.Error(), "json: ") + " for this step"
	default:
		return "malformed JSON object"
	}
}

func organizationPatch(in organizationStep) (StepPatch, error) {
	var p StepPatch
	if in.OrgName != nil {
		name := validation.SanitizeString(*in.OrgName, MaxOrgNameLen+1)
		if errs := validation.Validate(
			validation.Required("orgName", name),
			validation.MaxLength("orgName", name, MaxOrgNameLen),
		); len(errs) > 0 {
			return StepPatch{}, &ValidationError{Field: errs[0].Field, Message: errs[0].Message}
		}
		p.OrgName = &name
	}
	if in.OrgWebsite != nil {
		site := strings.TrimSpace(*in.OrgWebsite)
		if errs := validation.Validate(
			validation.MaxLength("orgWebsite", site, MaxOrgWebsiteLen),
			validation.HTTPURL("orgWebsite", site),
		); len(errs) > 0 {
			return StepPatch{}, &ValidationError{Field: errs[0].Field, Message: errs[0].Message}
		}
		p.OrgWebsite = &site
	}
	if in.OrgDescription != nil {
		desc := validation.SanitizeString(*in.OrgDescription, MaxOrgDescriptionLen+1)
		if errs := validation.Validate(
			validation.MaxLength("orgDescription", desc, MaxOrgDescriptionLen),
		); len(errs) > 0 {
			return StepPatch{}, &ValidationError{Field: errs[0].Field, Message: errs[0].Message}
		}
		p.OrgDescription = &desc
	}
	return p, nil
}

func planPatch(in planStep) (StepPatch, error) {
	var p StepPatch
	if in.SelectedTier != nil {
		if errs := validation.Validate(validation.OneOf("selectedTier", *in.SelectedTier, isTier)); len(errs) > 0 {
			return StepPatch{}, &ValidationError{Field: errs[0].Field, Message: errs[0].Message}
		}
		tier, _ := billing.ParseTier(*in.SelectedTier)
		p.SelectedTier = &tier
	}
	if in.BillingCycle != nil {
		if errs := validation.Validate(validation.OneOf("billingCycle", *in.BillingCycle, isCycle)); len(errs) > 0 {
			return StepPatch{}, &ValidationError{Field: errs[0].Field, Message: errs[0].Message}
		}
		cycle, _ := billing.ParseCycle(*in.BillingCycle)
		p.BillingCycle = &cycle
	}
	return p, nil
}

func isTier(s string) bool {
	_, ok := billing.ParseTier(s)
	return ok
}

func isCycle(s string) bool {
	_, ok := billing.ParseCycle(s)
	return ok
}
