package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "run_summary", mirror.RunSummary{Subdomain: "a.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "run_summary", msgs[0].Topic)
	assert.Equal(t, mirror.RunSummary{Subdomain: "a.example.com"}, msgs[0].Payload)

	msgs[0].Topic = "modified"
	assert.Equal(t, "run_summary", pub.Messages()[0].Topic, "Messages must return a copy")

	assert.Equal(t, []mirror.RunSummary{{Subdomain: "a.example.com"}}, pub.Summaries())

	pub.Reset()
	assert.Empty(t, pub.Messages())
}
