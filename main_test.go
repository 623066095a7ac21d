package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	vocabapp "eqas-cloud/internal/vocab/application"
	vocab "eqas-cloud/internal/vocab/domain"
	"eqas-cloud/internal/vocab/infrastructure/memory"
)

func TestRunRepairLoopPromotesPrimary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore()
	catalog, err := vocabapp.NewCatalogService(store)
	require.NoError(t, err)
	mappings, err := vocabapp.NewMappingService(store)
	require.NoError(t, err)

	v, err := catalog.CreateVocabulary(ctx, vocab.Vocabulary{Headword: "go-around"})
	require.NoError(t, err)
	topic, err := catalog.CreateTopic(ctx, vocab.Topic{Code: "landing", NameZh: "landing"})
	require.NoError(t, err)
	_, err = mappings.CreateMapping(ctx, vocabapp.MappingInput{VocabularyID: v.ID, TopicID: topic.ID})
	require.NoError(t, err)

	go runRepairLoop(ctx, mappings, 10*time.Millisecond, zap.NewNop())

	require.Eventually(t, func() bool {
		m, err := mappings.PrimaryMapping(ctx, v.ID)
		return err == nil && m != nil && m.TopicID == topic.ID
	}, 2*time.Second, 10*time.Millisecond)
}
