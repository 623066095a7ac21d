package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	vocabapp "eqas-cloud/internal/vocab/application"
	vocab "eqas-cloud/internal/vocab/domain"
	vocabrepo "eqas-cloud/internal/vocab/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMappingInvariants_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "av_vocab") || !tableExists(db, "av_vocab_topic") || !tableExists(db, "av_vocab_topic_map") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	suffix := time.Now().UnixNano()
	store := vocabrepo.NewStore(db)
	catalog, err := vocabapp.NewCatalogService(store)
	if err != nil {
		t.Fatalf("catalog service: %v", err)
	}
	mappings, err := vocabapp.NewMappingService(store)
	if err != nil {
		t.Fatalf("mapping service: %v", err)
	}

	v1, err := catalog.CreateVocabulary(ctx, vocab.Vocabulary{Headword: "readback", CEFRLevel: "B1"})
	if err != nil {
		t.Fatalf("create vocabulary: %v", err)
	}
	var topics []*vocab.Topic
	for i := 0; i < 3; i++ {
		topic, err := catalog.CreateTopic(ctx, vocab.Topic{Code: fmt.Sprintf("it-%d-%d", suffix, i), NameZh: "topic"})
		if err != nil {
			t.Fatalf("create topic: %v", err)
		}
		topics = append(topics, topic)
	}
	t1, t2, t3 := topics[0], topics[1], topics[2]
	defer func() {
		_ = catalog.DeleteVocabulary(ctx, v1.ID)
		_, _ = catalog.DeleteTopics(ctx, []int64{t1.ID, t2.ID, t3.ID})
	}()

	// Initial topics with an explicit primary.
	if _, err := mappings.AddTopicsToVocabulary(ctx, v1.ID, []int64{t1.ID, t2.ID}, &t1.ID); err != nil {
		t.Fatalf("add topics: %v", err)
	}
	assertPrimary(t, mappings, v1.ID, t1.ID)

	// Switching the primary keeps both mappings.
	if _, err := mappings.SetPrimaryTopic(ctx, v1.ID, t2.ID); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	assertPrimary(t, mappings, v1.ID, t2.ID)
	list, err := mappings.MappingsByVocabulary(ctx, v1.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 mappings, got %d (%v)", len(list), err)
	}

	// An existing pair cannot be created twice.
	_, err = mappings.CreateMapping(ctx, vocabapp.MappingInput{VocabularyID: v1.ID, TopicID: t1.ID, IsPrimary: true})
	if !errors.Is(err, vocab.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Concurrent primary changes on one vocabulary stay at one primary.
	if _, err := mappings.AddTopicsToVocabulary(ctx, v1.ID, []int64{t3.ID}, nil); err != nil {
		t.Fatalf("add t3: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(topicID int64) {
			defer wg.Done()
			if _, err := mappings.SetPrimaryTopic(ctx, v1.ID, topicID); err != nil {
				t.Errorf("concurrent set primary: %v", err)
			}
		}(topics[i%3].ID)
	}
	wg.Wait()
	primaries := 0
	list, _ = mappings.MappingsByVocabulary(ctx, v1.ID)
	for _, m := range list {
		if m.IsPrimary {
			primaries++
		}
	}
	if primaries != 1 {
		t.Fatalf("expected one primary after concurrent updates, got %d", primaries)
	}

	// Deleting the primary leaves a gap that repair closes.
	primary, err := mappings.PrimaryMapping(ctx, v1.ID)
	if err != nil || primary == nil {
		t.Fatalf("primary mapping: %v", err)
	}
	if err := mappings.DeleteMapping(ctx, primary.ID); err != nil {
		t.Fatalf("delete mapping: %v", err)
	}
	report, err := mappings.CheckIntegrity(ctx)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if !containsID(report.VocabulariesWithoutPrimary, v1.ID) {
		t.Fatalf("expected vocabulary %d without primary, got %v", v1.ID, report.VocabulariesWithoutPrimary)
	}
	summary, err := mappings.RepairIntegrity(ctx)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(summary.Failures) != 0 {
		t.Fatalf("repair failures: %+v", summary.Failures)
	}
	report, err = mappings.CheckIntegrity(ctx)
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if containsID(report.VocabulariesWithoutPrimary, v1.ID) {
		t.Fatalf("vocabulary %d still without primary", v1.ID)
	}

	// Cascade on topic delete.
	if err := catalog.DeleteTopic(ctx, t3.ID); err != nil {
		t.Fatalf("delete topic: %v", err)
	}
	byTopic, err := mappings.MappingsByTopic(ctx, t3.ID)
	if err != nil || len(byTopic) != 0 {
		t.Fatalf("expected no mappings for deleted topic, got %d (%v)", len(byTopic), err)
	}
}

func assertPrimary(t *testing.T, mappings *vocabapp.MappingService, vocabID, topicID int64) {
	t.Helper()
	m, err := mappings.PrimaryMapping(context.Background(), vocabID)
	if err != nil {
		t.Fatalf("primary mapping: %v", err)
	}
	if m == nil || m.TopicID != topicID {
		t.Fatalf("expected primary topic %d, got %+v", topicID, m)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	return err == nil && exists
}
