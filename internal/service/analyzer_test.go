package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/domain"
)

func validReport() *ComplianceReport {
	return &ComplianceReport{
		OverallComplianceRatio: 72.5,
		ComplianceGrade:        domain.GradeGood,
		Summary:                "Covers the basics but omits refund timelines.",
	}
}

func TestValidateComplianceReportNormalizes(t *testing.T) {
	r := validReport()
	r.ComplianceGrade = " Very Good "
	r.CriticalIssues = []ComplianceIssue{{Issue: "no timeline", Severity: "SEVERE"}}

	require.NoError(t, ValidateComplianceReport(r))

	assert.Equal(t, domain.GradeVeryGood, r.ComplianceGrade)
	// Unknown severities are coerced, not rejected.
	assert.Equal(t, domain.SeverityMedium, r.CriticalIssues[0].Severity)
	// Nil collections come back as empty so cached JSON never carries nulls.
	assert.NotNil(t, r.Weaknesses)
	assert.NotNil(t, r.Strengths)
	assert.NotNil(t, r.Ambiguities)
	assert.NotNil(t, r.Recommendations)
}

func TestValidateComplianceReportHardFailures(t *testing.T) {
	r := validReport()
	r.OverallComplianceRatio = 120
	assert.Error(t, ValidateComplianceReport(r))

	r = validReport()
	r.ComplianceGrade = "stellar"
	assert.Error(t, ValidateComplianceReport(r))

	r = validReport()
	r.Summary = "   "
	assert.Error(t, ValidateComplianceReport(r))
}

func TestStripFences(t *testing.T) {
	body := `{"ok": true}`
	assert.Equal(t, body, stripFences(body))
	assert.Equal(t, body, stripFences("```json\n"+body+"\n```"))
	assert.Equal(t, body, stripFences("```\n"+body+"\n```\n"))
}
