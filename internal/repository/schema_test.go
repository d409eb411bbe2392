package repository

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

func schemaChoices(t *testing.T, schema, column string) []string {
	t.Helper()
	re := regexp.MustCompile(`CHECK \(` + column + ` IN \(([^)]*)\)\)`)
	match := re.FindStringSubmatch(schema)
	require.NotNil(t, match, "no CHECK list for %s", column)
	var values []string
	for _, raw := range strings.Split(match[1], ",") {
		values = append(values, strings.Trim(strings.TrimSpace(raw), "'"))
	}
	return values
}

func TestSchemaAcceptsEveryModelValue(t *testing.T) {
	raw, err := os.ReadFile("../../db/schema.sql")
	require.NoError(t, err)
	schema := string(raw)

	phases := schemaChoices(t, schema, "current_phase")
	for _, phase := range models.Phases() {
		assert.Contains(t, phases, string(phase))
	}
	assert.Contains(t, schema, "DEFAULT '"+string(models.PhasePreRegistration)+"'")

	statuses := schemaChoices(t, schema, "status")
	for _, status := range []models.PlanStatus{models.PlanStatusDraft, models.PlanStatusActive, models.PlanStatusSuspended, models.PlanStatusClosed} {
		assert.Contains(t, statuses, string(status))
	}

	types := schemaChoices(t, schema, "quota_type")
	for _, qt := range []models.QuotaType{models.QuotaTypeRegular, models.QuotaTypeSpecial, models.QuotaTypePriority, models.QuotaTypeTransfer} {
		assert.Contains(t, types, string(qt))
	}
}
