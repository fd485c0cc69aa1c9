package policy

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sentrytsa/tsamediator/pkg/tsaerr"
)

// structValidate is a package-level, concurrency-safe validator instance,
// used for the shape-only checks struct tags can express; everything that
// needs cross-field or semantic knowledge (OID syntax, EKU value, known
// provider IDs) is checked by hand in Validate below.
var structValidate = newStructValidator()

// newStructValidator builds the validator so that field errors name fields
// by their json tag rather than their Go name.
func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
var oidPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)+$`)

// Validate runs full validation of p against §4.4's rules. errs are hard
// failures (the save must be rejected); warnings are non-fatal and recorded
// for visibility only. knownProviderIDs is the set of registered C1 adapter
// IDs, used to check routing_priority entries.
func Validate(p TenantPolicy, knownProviderIDs map[string]bool) (errs, warnings []tsaerr.FieldError) {
	if fe := structValidate.Struct(p); fe != nil {
		if ve, ok := fe.(validator.ValidationErrors); ok {
			for _, f := range ve {
				errs = append(errs, tsaerr.FieldError{
					Field:    jsonFieldName(f),
					Code:     f.Tag(),
					Severity: "error",
					Message:  fmt.Sprintf("failed '%s' validation", f.Tag()),
				})
			}
		}
	}

	if !tenantIDPattern.MatchString(p.TenantID) {
		errs = append(errs, tsaerr.FieldError{
			Field: "tenant_id", Code: "pattern", Severity: "error",
			Message: "must be 3-64 chars matching [A-Za-z0-9_-]+",
		})
	}

	for i, anchor := range p.AcceptedTrustAnchors {
		field := fmt.Sprintf("accepted_trust_anchors[%d]", i)
		if !strings.Contains(anchor.PEMCertificate, "BEGIN CERTIFICATE") || !strings.Contains(anchor.PEMCertificate, "END CERTIFICATE") {
			errs = append(errs, tsaerr.FieldError{
				Field: field + ".pem_certificate", Code: "pem_markers", Severity: "error",
				Message: "must contain BEGIN/END CERTIFICATE markers",
			})
		}
		if len(anchor.PEMCertificate) > 10*1024 {
			errs = append(errs, tsaerr.FieldError{
				Field: field + ".pem_certificate", Code: "max", Severity: "error",
				Message: "must be at most 10 KB",
			})
		}
		if anchor.RequiredEKU != timestampingEKU {
			errs = append(errs, tsaerr.FieldError{
				Field: field + ".required_eku", Code: "eku", Severity: "error",
				Message: "must equal the timestamping EKU OID " + timestampingEKU,
			})
		}
	}
	if len(p.AcceptedTrustAnchors) > maxTrustAnchors {
		errs = append(errs, tsaerr.FieldError{
			Field: "accepted_trust_anchors", Code: "max", Severity: "error",
			Message: "must contain at most 20 entries",
		})
	}

	for i, oid := range p.AcceptedPolicyOIDs {
		if len(oid) < 3 || len(oid) > 100 || !oidPattern.MatchString(oid) || strings.Contains(oid, "..") {
			errs = append(errs, tsaerr.FieldError{
				Field: fmt.Sprintf("accepted_policy_oids[%d]", i), Code: "oid", Severity: "error",
				Message: "must be a well-formed OID",
			})
		}
	}
	if len(p.AcceptedPolicyOIDs) > maxPolicyOIDs {
		errs = append(errs, tsaerr.FieldError{
			Field: "accepted_policy_oids", Code: "max", Severity: "error",
			Message: "must contain at most 50 entries",
		})
	}

	seenProviders := make(map[string]bool, len(p.RoutingPriority))
	for i, id := range p.RoutingPriority {
		if knownProviderIDs != nil && !knownProviderIDs[id] {
			errs = append(errs, tsaerr.FieldError{
				Field: fmt.Sprintf("routing_priority[%d]", i), Code: "unknown_provider", Severity: "error",
				Message: "must be a known provider ID",
			})
		}
		if seenProviders[id] {
			warnings = append(warnings, tsaerr.FieldError{
				Field: "routing_priority", Code: "duplicate", Severity: "warning",
				Message: "contains duplicate provider ID " + id,
			})
		}
		seenProviders[id] = true
	}
	if len(p.RoutingPriority) > maxRoutingPriority {
		errs = append(errs, tsaerr.FieldError{
			Field: "routing_priority", Code: "max", Severity: "error",
			Message: "must contain at most 10 entries",
		})
	}

	if p.SLA.P95LatencyMS <= 0 {
		errs = append(errs, tsaerr.FieldError{
			Field: "sla.p95_latency_ms", Code: "gt", Severity: "error",
			Message: "must be greater than zero",
		})
	} else if p.SLA.P95LatencyMS < 100 {
		warnings = append(warnings, tsaerr.FieldError{
			Field: "sla.p95_latency_ms", Code: "low", Severity: "warning",
			Message: "below 100ms is unusually aggressive for a TSA SLA",
		})
	}
	if p.SLA.MonthlyErrorBudgetPct < 0 || p.SLA.MonthlyErrorBudgetPct > 100 {
		errs = append(errs, tsaerr.FieldError{
			Field: "sla.monthly_error_budget_pct", Code: "range", Severity: "error",
			Message: "must be in [0, 100]",
		})
	} else if p.SLA.MonthlyErrorBudgetPct > 5 {
		warnings = append(warnings, tsaerr.FieldError{
			Field: "sla.monthly_error_budget_pct", Code: "high", Severity: "warning",
			Message: "above 5% is an unusually generous error budget",
		})
	}

	return errs, warnings
}

// jsonFieldName converts the validator's field name to the JSON field name.
func jsonFieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return toSnakeCase(ns)
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + 32)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
