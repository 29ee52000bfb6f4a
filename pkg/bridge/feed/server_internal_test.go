package feed

import (
	"testing"

	"github.com/stretchr/testify/require"

	"telemlink/pkg/protocol"
)

func TestPublishCountsSlowClientDrops(t *testing.T) {
	s := NewServer(DefaultConfig(), nil, protocol.CanphonLayout)
	// No writeLoop runs, so the one-slot queue stays full after the first
	// message.
	c := newClient(nil, 1)
	s.addClient(c)
	defer s.removeClient(c)

	s.publish(RecordMsg{Op: OpRecord})
	s.publish(RecordMsg{Op: OpRecord})
	s.publish(RecordMsg{Op: OpRecord})

	require.Len(t, c.send, 1)
	require.Equal(t, uint64(2), s.Dropped())
	require.Equal(t, uint64(2), s.snapshotStats().FeedDropped)
}
