package zotero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionSetUpdateReplaces(t *testing.T) {
	s := NewSubscriptionSet()
	require.True(t, s.IsEmpty())

	s.Update(
		Subscription{APIKey: "k1", Topics: []string{"/users/1", "/groups/2", "/users/1"}},
		Subscription{Topics: []string{"/groups/9"}},
	)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []Subscription{
		{APIKey: "k1", Topics: []string{"/users/1", "/groups/2"}},
		{Topics: []string{"/groups/9"}},
	}, s.Subscriptions())

	s.Update(Subscription{APIKey: "k1", Topics: []string{"/groups/3"}})
	assert.False(t, s.Has("k1", "/users/1"), "topics are replaced, not merged")
	assert.True(t, s.Has("k1", "/groups/3"))
	assert.Equal(t, "k1", s.Subscriptions()[0].APIKey, "replacement keeps position")
}

func TestSubscriptionSetKeyWithoutTopics(t *testing.T) {
	s := NewSubscriptionSet()
	s.Update(Subscription{APIKey: "k1"})

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Topics())
	require.NoError(t, s.Add("k1", "/users/1"))
	assert.Equal(t, []string{"/users/1"}, s.Topics())
}

func TestSubscriptionSetAddRemove(t *testing.T) {
	s := NewSubscriptionSet()
	s.Update(Subscription{APIKey: "k1", Topics: []string{"/users/1"}})

	require.NoError(t, s.Add("k1", "/groups/2"))
	require.NoError(t, s.Add("k1", "/groups/2"))
	assert.Equal(t, []string{"/users/1", "/groups/2"}, s.Topics())

	err := s.Add("unknown-key", "/groups/2")
	require.ErrorIs(t, err, ErrNoSubscription)
	assert.NotContains(t, err.Error(), "unknown-key")

	s.Remove("k1", "/users/1")
	s.Remove("k1", "/users/404")
	s.Remove("nobody", "/users/1")
	assert.Equal(t, []string{"/groups/2"}, s.Topics())
}

func TestSubscriptionSetCancel(t *testing.T) {
	s := NewSubscriptionSet()
	s.Update(
		Subscription{APIKey: "k1", Topics: []string{"/users/1", "/groups/2"}},
		Subscription{APIKey: "k2", Topics: []string{"/groups/2"}},
	)

	s.Cancel(TopicRef{APIKey: "k1", Topic: "/groups/2"}, TopicRef{APIKey: "missing"})
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"/users/1", "/groups/2"}, s.Topics(), "union keeps k2's topic")

	s.Cancel(TopicRef{APIKey: "k2"})
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []Subscription{{APIKey: "k1", Topics: []string{"/users/1"}}}, s.Subscriptions())

	s.Cancel(TopicRef{APIKey: "k2"})
	assert.Equal(t, 1, s.Len())
}

func TestSubscriptionsAreCopies(t *testing.T) {
	s := NewSubscriptionSet()
	s.Update(Subscription{APIKey: "k1", Topics: []string{"/users/1"}})

	subs := s.Subscriptions()
	subs[0].Topics[0] = "/users/2"
	assert.True(t, s.Has("k1", "/users/1"))
}
