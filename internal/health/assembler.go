package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/healthadvisor/server/internal/models"
)

const (
	defaultRecordLimit = 5
	timestampLayout    = "Jan 2, 2006 3:04 PM"
)

// ContextAssembler renders a user's recent health records into a single text
// block for prompt injection. A failed or empty fetch yields "" so that a
// chat turn never fails over missing personalization.
type ContextAssembler struct {
	provider DataProvider
	logger   *zap.Logger
}

func NewContextAssembler(provider DataProvider, logger *zap.Logger) *ContextAssembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextAssembler{provider: provider, logger: logger}
}

// BuildContext fetches the three record types concurrently and renders the
// non-empty ones. Errors are logged and absorbed.
func (a *ContextAssembler) BuildContext(ctx context.Context, userID string, limit int) string {
	if limit <= 0 {
		limit = defaultRecordLimit
	}

	var meals, labs, symptoms []models.HealthRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		meals, err = a.provider.RecentRecords(gctx, userID, models.RecordMeal, limit)
		return err
	})
	g.Go(func() error {
		var err error
		labs, err = a.provider.RecentRecords(gctx, userID, models.RecordLabResult, limit)
		return err
	})
	g.Go(func() error {
		var err error
		symptoms, err = a.provider.RecentRecords(gctx, userID, models.RecordSymptom, limit)
		return err
	})

	if err := g.Wait(); err != nil {
		a.logger.Warn("health context fetch failed, continuing without it",
			zap.String("user_id", userID), zap.Error(err))
		return ""
	}

	sections := make([]string, 0, 3)
	if section := renderSection("Recent meals:", meals, renderMeal); section != "" {
		sections = append(sections, section)
	}
	if section := renderSection("Recent lab results:", labs, renderLabResult); section != "" {
		sections = append(sections, section)
	}
	if section := renderSection("Recent symptoms:", symptoms, renderSymptom); section != "" {
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		return ""
	}

	return "HEALTH CONTEXT:\n\n" + strings.Join(sections, "\n\n")
}

func renderSection(header string, records []models.HealthRecord, render func(models.HealthRecord) string) string {
	if len(records) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(header)
	for _, record := range records {
		builder.WriteString("\n- ")
		builder.WriteString(record.RecordedAt.Format(timestampLayout))
		builder.WriteString(": ")
		builder.WriteString(render(record))
	}
	return builder.String()
}

func renderMeal(record models.HealthRecord) string {
	description := strings.TrimSpace(record.Description)
	if description == "" {
		description = "(no description)"
	}
	if mealType := strings.TrimSpace(record.MealType); mealType != "" {
		return fmt.Sprintf("%s (%s)", description, mealType)
	}
	return description
}

func renderLabResult(record models.HealthRecord) string {
	testType := strings.TrimSpace(record.TestType)
	if testType == "" {
		testType = "lab test"
	}
	if len(record.Results) == 0 {
		return testType
	}

	keys := make([]string, 0, len(record.Results))
	for key := range record.Results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s: %s", key, record.Results[key]))
	}

	return fmt.Sprintf("%s (%s)", testType, strings.Join(pairs, ", "))
}

func renderSymptom(record models.HealthRecord) string {
	description := strings.TrimSpace(record.Description)
	if description == "" {
		description = "(no description)"
	}

	details := make([]string, 0, 2)
	if record.Severity > 0 {
		details = append(details, fmt.Sprintf("severity %d/10", record.Severity))
	}
	if duration := strings.TrimSpace(record.Duration); duration != "" {
		details = append(details, "duration "+duration)
	}

	if len(details) == 0 {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, strings.Join(details, ", "))
}
