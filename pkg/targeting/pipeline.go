// Package targeting resolves the customers a workflow acts on by narrowing the
// shop's customer base through an ordered list of filter stages.
package targeting

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// Mode selects whether the per-trigger predicate stage runs.
type Mode int

const (
	// WithTriggerPredicate is used by time-driven runs, where the predicate
	// picks the customers actually due today.
	WithTriggerPredicate Mode = iota
	// WithoutTriggerPredicate is used when the trigger condition was already checked.
	WithoutTriggerPredicate
)

func (m Mode) String() string {
	if m == WithoutTriggerPredicate {
		return "without_trigger_predicate"
	}

	return "with_trigger_predicate"
}

type stageFunc func(ctx context.Context, ids []string) ([]string, error)

type stage struct {
	name  string
	apply stageFunc
}

// Pipeline narrows a shop's customer ids for one workflow. It has no side effects.
type Pipeline struct {
	directory protocol.CustomerDirectory
	clock     clockwork.Clock
	location  *time.Location
	logger    *slog.Logger
}

func NewPipeline(directory protocol.CustomerDirectory, clock clockwork.Clock, location *time.Location, logger *slog.Logger) *Pipeline {
	if location == nil {
		location = time.UTC
	}

	return &Pipeline{
		directory: directory,
		clock:     clock,
		location:  location,
		logger:    logger.With("module", "targeting"),
	}
}

// Filter returns the deduplicated target ids for workflow. Each stage only
// removes ids; an empty intermediate result stops the pipeline.
func (p *Pipeline) Filter(ctx context.Context, workflow *models.Workflow, mode Mode) ([]string, error) {
	logger := p.logger.With("workflow_id", workflow.ID, "shop_id", workflow.ShopID, "mode", mode.String())
	now := p.clock.Now().In(p.location)

	ids, err := p.directory.ListCustomerIDs(ctx, workflow.ShopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers for shop %s: %w", workflow.ShopID, err)
	}

	ids = dedupe(ids)
	logger.DebugContext(ctx, "Loaded base candidates", "count", len(ids))

	for _, s := range p.stages(ctx, logger, workflow, mode, now) {
		if len(ids) == 0 {
			logger.DebugContext(ctx, "No candidates left, skipping remaining stages", "stage", s.name)

			return []string{}, nil
		}

		before := len(ids)

		narrowed, err := s.apply(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("filter stage %s: %w", s.name, err)
		}

		ids = clamp(ids, narrowed)
		logger.DebugContext(ctx, "Applied filter stage", "stage", s.name, "before", before, "after", len(ids))
	}

	return ids, nil
}

func (p *Pipeline) stages(ctx context.Context, logger *slog.Logger, workflow *models.Workflow, mode Mode, now time.Time) []stage {
	filters := workflow.Filters
	shopID := workflow.ShopID
	stages := make([]stage, 0, 5)

	if grades, ok := cleanIDs(filters.GradeIDs); ok {
		stages = append(stages, stage{"grades", func(ctx context.Context, ids []string) ([]string, error) {
			return p.directory.FilterByGrades(ctx, shopID, ids, grades)
		}})
	} else if len(filters.GradeIDs) > 0 {
		logger.WarnContext(ctx, "Ignoring malformed grade filter", "grade_ids", filters.GradeIDs)
	}

	if tags, ok := cleanIDs(filters.TagIDs); ok {
		stages = append(stages, stage{"tags", func(ctx context.Context, ids []string) ([]string, error) {
			return p.directory.FilterByTags(ctx, shopID, ids, tags)
		}})
	} else if len(filters.TagIDs) > 0 {
		logger.WarnContext(ctx, "Ignoring malformed tag filter", "tag_ids", filters.TagIDs)
	}

	if filters.ExcludeDormantCustomers {
		if filters.DormantPeriodMonths > 0 {
			cutoff := now.AddDate(0, -filters.DormantPeriodMonths, 0)
			stages = append(stages, stage{"exclude_dormant", func(ctx context.Context, ids []string) ([]string, error) {
				return p.directory.ExcludeDormant(ctx, shopID, ids, cutoff)
			}})
		} else {
			logger.WarnContext(ctx, "Ignoring dormant filter with non-positive period", "dormant_period_months", filters.DormantPeriodMonths)
		}
	}

	if filters.ExcludeRecentMessageReceivers {
		if filters.RecentMessagePeriodDays > 0 {
			cutoff := now.AddDate(0, 0, -filters.RecentMessagePeriodDays)
			stages = append(stages, stage{"exclude_recent_receivers", func(ctx context.Context, ids []string) ([]string, error) {
				return p.directory.ExcludeRecentMessageReceivers(ctx, shopID, ids, cutoff)
			}})
		} else {
			logger.WarnContext(ctx, "Ignoring recent message filter with non-positive period", "recent_message_period_days", filters.RecentMessagePeriodDays)
		}
	}

	if mode == WithTriggerPredicate {
		if predicate := p.triggerPredicate(ctx, logger, workflow, now); predicate != nil {
			stages = append(stages, stage{"trigger_" + string(workflow.TriggerType), predicate})
		}
	}

	return stages
}

// triggerPredicate returns nil for trigger types without a time-driven condition.
func (p *Pipeline) triggerPredicate(ctx context.Context, logger *slog.Logger, workflow *models.Workflow, now time.Time) stageFunc {
	shopID := workflow.ShopID

	spec, err := models.ParseTriggerConfig(workflow.TriggerType, workflow.TriggerConfig)
	if err != nil {
		logger.WarnContext(ctx, "Using default trigger configuration", "trigger_type", workflow.TriggerType, "error", err)
	}

	switch trigger := spec.(type) {
	case models.BirthdayTrigger:
		day := now.AddDate(0, 0, trigger.DaysBefore)

		return func(ctx context.Context, ids []string) ([]string, error) {
			return p.directory.IsBirthdayToday(ctx, shopID, ids, day)
		}
	case models.VisitCycleTrigger:
		return func(ctx context.Context, ids []string) ([]string, error) {
			return p.directory.MatchesVisitCycle(ctx, shopID, ids, trigger.VisitCycleDays, now)
		}
	case models.FirstVisitAnniversaryTrigger:
		return func(ctx context.Context, ids []string) ([]string, error) {
			return p.directory.IsAnniversary(ctx, shopID, ids, now)
		}
	case models.ChurnRiskHighTrigger:
		return func(ctx context.Context, ids []string) ([]string, error) {
			return p.directory.IsHighChurnRisk(ctx, shopID, ids)
		}
	default:
		return nil
	}
}

// cleanIDs drops blank entries; ok is false when nothing usable remains.
func cleanIDs(ids []string) ([]string, bool) {
	cleaned := make([]string, 0, len(ids))

	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}

	return cleaned, len(cleaned) > 0
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

// clamp keeps the ids of narrowed that were in input, preserving input order.
func clamp(input, narrowed []string) []string {
	keep := make(map[string]struct{}, len(narrowed))
	for _, id := range narrowed {
		keep[id] = struct{}{}
	}

	return slices.DeleteFunc(slices.Clone(input), func(id string) bool {
		_, ok := keep[id]

		return !ok
	})
}
