package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatJSONUsesColumnNames(t *testing.T) {
	data, err := json.Marshal(Chat{ID: 1, Name: "dm"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "dm", decoded["name"])
	assert.NotContains(t, decoded, "title")
}
