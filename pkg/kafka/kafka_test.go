package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routedEvent struct {
	ArticleID int64 `json:"article_id"`
	UserID    int64 `json:"user_id"`
}

func TestEncode(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "7", Value: routedEvent{ArticleID: 3, UserID: 7}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "7", string(msgs[0].Key))
	assert.JSONEq(t, `{"article_id":3,"user_id":7}`, string(msgs[0].Value))
}

func TestEncode_Unmarshalable(t *testing.T) {
	_, err := encode([]Event{{Key: "x", Value: make(chan int)}})
	require.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	ev, err := DecodeJSON[routedEvent]([]byte(`{"article_id":9,"user_id":2}`))
	require.NoError(t, err)
	assert.Equal(t, routedEvent{ArticleID: 9, UserID: 2}, ev)

	_, err = DecodeJSON[routedEvent]([]byte(`{not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanent)
}
