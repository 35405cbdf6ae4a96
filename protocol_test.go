package zotero

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	data, err := encodeRequest(actionCreateSubscriptions, []Subscription{
		{APIKey: "k1", Topics: []string{"/users/1"}},
		{Topics: []string{"/groups/2"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"createSubscriptions","subscriptions":[
		{"apiKey":"k1","topics":["/users/1"]},
		{"topics":["/groups/2"]}
	]}`, string(data))

	data, err = encodeRequest(actionDeleteSubscriptions, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"deleteSubscriptions","subscriptions":[]}`, string(data))
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"event":"connected","retry":10000,"topics":["/users/1"]}`))
	require.NoError(t, err)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, 10*time.Second, ev.Retry)
	assert.Equal(t, []string{"/users/1"}, ev.Topics)

	ev, err = decodeEvent([]byte(`{"event":"subscriptionsCreated",
		"subscriptions":[{"apiKey":"k1","topics":["/users/1"]}],
		"errors":[{"apiKey":"k1","topic":"/groups/2","error":"Topic is not valid for provided API key"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []Subscription{{APIKey: "k1", Topics: []string{"/users/1"}}}, ev.Subscriptions)
	require.Len(t, ev.Errors, 1)
	assert.Equal(t, "/groups/2", ev.Errors[0].Topic)

	ev, err = decodeEvent([]byte(`{"event":"topicUpdated","topic":"/users/1","version":1234}`))
	require.NoError(t, err)
	assert.Equal(t, EventTopicUpdated, ev.Kind)
	assert.Equal(t, "/users/1", ev.Topic)
	assert.Equal(t, int64(1234), ev.Version)

	ev, err = decodeEvent([]byte(`{"event":"somethingNew","topic":"/x"}`))
	require.NoError(t, err, "unknown kinds pass through")
	assert.Equal(t, EventKind("somethingNew"), ev.Kind)
	assert.NotEmpty(t, ev.Raw)
}

func TestDecodeEventMalformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"event":`,
		`{"topic":"/users/1"}`,
		`{"event":42}`,
		`{"event":""}`,
		`["connected"]`,
		`{"event":"topicAdded","apiKey":"k1"}`,
		`{"event":"connected","retry":"soon"}`,
	} {
		_, err := decodeEvent([]byte(frame))
		assert.ErrorIs(t, err, ErrMalformedEvent, frame)
	}
}
