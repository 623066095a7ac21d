package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "mappings",
			Help: "Vocabulary-topic mapping records",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM av_vocab_topic_map")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "vocabularies_without_primary",
			Help: "Vocabularies that have mappings but no primary topic",
		},
		func() float64 {
			return queryCount(db, logger, `
SELECT COUNT(*) FROM (
	SELECT vocab_id FROM av_vocab_topic_map
	GROUP BY vocab_id
	HAVING NOT BOOL_OR(is_primary)
) AS missing`)
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
