package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/withObsrvr/exchange-ingest/internal/domain"
)

func TestOrderedSubsetPreservesDispatchOrder(t *testing.T) {
	got := orderedSubset([]domain.Exchange{domain.NYQ, domain.LSE})
	assert.Equal(t, []domain.Exchange{domain.LSE, domain.NYQ}, got)
}

func TestOrderedSubsetWithAllExchanges(t *testing.T) {
	got := orderedSubset(domain.All)
	assert.Equal(t, []domain.Exchange{domain.LSE, domain.CME, domain.NYQ}, got)
}

func TestOrderedSubsetDropsUnrequested(t *testing.T) {
	got := orderedSubset([]domain.Exchange{domain.CME})
	assert.Equal(t, []domain.Exchange{domain.CME}, got)
}
