package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eqas-cloud/internal/observability/metrics"
	vocab "eqas-cloud/internal/vocab/domain"
)

// IntegrityReport is a read-only snapshot of primary-topic health. It may be
// stale by the time it is returned.
type IntegrityReport struct {
	VocabulariesWithoutPrimary       []int64   `json:"vocabsWithoutPrimary"`
	VocabulariesWithoutMappings      []int64   `json:"vocabsWithoutAnyTopic"`
	TopicsWithoutMappings            []int64   `json:"topicsWithoutVocabs"`
	VocabulariesWithoutPrimaryCount  int       `json:"vocabsWithoutPrimaryCount"`
	VocabulariesWithoutMappingsCount int       `json:"vocabsWithoutAnyTopicCount"`
	TopicsWithoutMappingsCount       int       `json:"topicsWithoutVocabsCount"`
	Healthy                          bool      `json:"healthy"`
	CheckedAt                        time.Time `json:"checkedAt"`
}

// RepairedVocabulary names the primary assigned to one vocabulary.
type RepairedVocabulary struct {
	VocabularyID int64 `json:"vocabId"`
	MappingID    int64 `json:"mappingId"`
	TopicID      int64 `json:"topicId"`
}

// RepairFailure records a vocabulary whose repair transaction failed.
type RepairFailure struct {
	VocabularyID int64  `json:"vocabId"`
	Error        string `json:"error"`
}

// RepairSummary reports one repair run.
type RepairSummary struct {
	RepairedCount int                  `json:"repairedCount"`
	Repaired      []RepairedVocabulary `json:"repaired"`
	// Skipped vocabularies gained a primary, lost their mappings or were
	// deleted between the check and their repair.
	Skipped  []int64         `json:"skippedVocabIds"`
	Failures []RepairFailure `json:"failures"`
	// Reported only; nothing can be inferred to fix them.
	VocabulariesWithoutMappings []int64   `json:"vocabsWithoutAnyTopic"`
	TopicsWithoutMappings       []int64   `json:"topicsWithoutVocabs"`
	StartedAt                   time.Time `json:"startedAt"`
	FinishedAt                  time.Time `json:"finishedAt"`
}

// Statistics aggregates mapping counts and diagnostic set sizes.
type Statistics struct {
	vocab.MappingCounts
	VocabulariesWithoutPrimaryCount  int `json:"vocabsWithoutPrimaryCount"`
	VocabulariesWithoutMappingsCount int `json:"vocabsWithoutAnyTopicCount"`
	TopicsWithoutMappingsCount       int `json:"topicsWithoutVocabsCount"`
}

func nonNil(list []int64) []int64 {
	if list == nil {
		return []int64{}
	}
	return list
}

// checkIntegrity builds the report from one read snapshot so the three
// diagnostic sets stay disjoint.
func (s *MappingService) checkIntegrity(ctx context.Context) (report IntegrityReport, err error) {
	err = s.store.ReadSnapshot(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		report, err = s.diagnose(ctx, repos)
		return err
	})
	if err != nil {
		return IntegrityReport{}, vocab.Storage("check integrity", err)
	}
	return report, nil
}

func (s *MappingService) diagnose(ctx context.Context, repos vocab.Repositories) (IntegrityReport, error) {
	var report IntegrityReport
	withoutPrimary, err := repos.Mappings().VocabulariesWithoutPrimary(ctx)
	if err != nil {
		return report, err
	}
	withoutMappings, err := repos.Mappings().VocabulariesWithoutMappings(ctx)
	if err != nil {
		return report, err
	}
	topics, err := repos.Mappings().TopicsWithoutMappings(ctx)
	if err != nil {
		return report, err
	}
	report = IntegrityReport{
		VocabulariesWithoutPrimary:       nonNil(withoutPrimary),
		VocabulariesWithoutMappings:      nonNil(withoutMappings),
		TopicsWithoutMappings:            nonNil(topics),
		VocabulariesWithoutPrimaryCount:  len(withoutPrimary),
		VocabulariesWithoutMappingsCount: len(withoutMappings),
		TopicsWithoutMappingsCount:       len(topics),
		CheckedAt:                        s.now(),
	}
	report.Healthy = len(withoutPrimary) == 0 && len(withoutMappings) == 0 && len(topics) == 0
	return report, nil
}

// CheckIntegrity lists vocabularies with mappings but no primary,
// vocabularies with no mapping and topics with no mapping. It never writes.
func (s *MappingService) CheckIntegrity(ctx context.Context) (report IntegrityReport, err error) {
	start := time.Now()
	defer func() { err = s.finish(opCheckIntegrity, start, err) }()

	return s.checkIntegrity(ctx)
}

// RepairIntegrity promotes one mapping of every vocabulary that has mappings
// but no primary: the earliest created, then the lowest topic id. Each
// vocabulary is repaired in its own transaction; a failure is recorded in
// the summary and the run moves on.
func (s *MappingService) RepairIntegrity(ctx context.Context) (summary RepairSummary, err error) {
	start := time.Now()
	defer func() {
		result := metrics.Result(err)
		metrics.ObserveRepair(result, len(summary.Repaired), len(summary.Skipped), len(summary.Failures))
		err = s.finish(opRepairIntegrity, start, err)
	}()

	summary.StartedAt = s.now()
	report, err := s.checkIntegrity(ctx)
	if err != nil {
		return summary, err
	}
	summary.Repaired = []RepairedVocabulary{}
	summary.Skipped = []int64{}
	summary.Failures = []RepairFailure{}
	summary.VocabulariesWithoutMappings = report.VocabulariesWithoutMappings
	summary.TopicsWithoutMappings = report.TopicsWithoutMappings

	var touched []vocab.Mapping
	for _, vocabID := range report.VocabulariesWithoutPrimary {
		if err := ctx.Err(); err != nil {
			summary.Failures = append(summary.Failures, RepairFailure{VocabularyID: vocabID, Error: err.Error()})
			continue
		}
		promoted, err := s.repairVocabulary(ctx, vocabID)
		switch {
		case err != nil:
			s.logger.Error("repair vocabulary failed", zap.Int64("vocab_id", vocabID), zap.Error(err))
			summary.Failures = append(summary.Failures, RepairFailure{VocabularyID: vocabID, Error: err.Error()})
		case promoted == nil:
			summary.Skipped = append(summary.Skipped, vocabID)
		default:
			touched = append(touched, *promoted)
			summary.Repaired = append(summary.Repaired, RepairedVocabulary{
				VocabularyID: vocabID,
				MappingID:    promoted.ID,
				TopicID:      promoted.TopicID,
			})
		}
	}
	summary.RepairedCount = len(summary.Repaired)
	summary.FinishedAt = s.now()

	if len(touched) > 0 {
		s.invalidate(ctx, mappingKeys(touched...)...)
	}
	if len(summary.Repaired) > 0 || len(summary.Failures) > 0 {
		s.record(ctx, "mapping.repair", vocab.ResourceMapping, 0, summary)
	}
	s.logger.Info("integrity repair finished",
		zap.Int("repaired", len(summary.Repaired)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failures)))
	return summary, nil
}

// repairVocabulary promotes the repair candidate of one vocabulary. It
// returns nil when the vocabulary no longer needs repair.
func (s *MappingService) repairVocabulary(ctx context.Context, vocabID int64) (*vocab.Mapping, error) {
	var promoted *vocab.Mapping
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		missing, err := repos.Vocabularies().Lock(ctx, []int64{vocabID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return nil
		}
		primaries, err := repos.Mappings().ListPrimaries(ctx, vocabID)
		if err != nil {
			return err
		}
		if len(primaries) > 0 {
			return nil
		}
		mappings, err := repos.Mappings().ListByVocabulary(ctx, vocabID)
		if err != nil {
			return err
		}
		candidate, ok := vocab.SelectRepairCandidate(mappings)
		if !ok {
			return nil
		}
		now := s.now()
		if err := repos.Mappings().SetPrimary(ctx, candidate.ID, true, now); err != nil {
			return err
		}
		candidate.IsPrimary = true
		candidate.UpdatedAt = now
		promoted = &candidate
		return nil
	})
	if err != nil {
		return nil, vocab.Storage("repair vocabulary", err)
	}
	return promoted, nil
}

// Statistics recomputes mapping counts and diagnostic set sizes.
func (s *MappingService) Statistics(ctx context.Context) (stats Statistics, err error) {
	start := time.Now()
	defer func() { err = s.finish(opStatistics, start, err) }()

	var (
		counts vocab.MappingCounts
		report IntegrityReport
	)
	err = s.store.ReadSnapshot(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		var err error
		if counts, err = repos.Mappings().Counts(ctx); err != nil {
			return err
		}
		report, err = s.diagnose(ctx, repos)
		return err
	})
	if err != nil {
		return stats, vocab.Storage("statistics", err)
	}
	return Statistics{
		MappingCounts:                    counts,
		VocabulariesWithoutPrimaryCount:  report.VocabulariesWithoutPrimaryCount,
		VocabulariesWithoutMappingsCount: report.VocabulariesWithoutMappingsCount,
		TopicsWithoutMappingsCount:       report.TopicsWithoutMappingsCount,
	}, nil
}
