package manifest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreated_Reproducible(t *testing.T) {
	when := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	first, err := NewCreated(DefaultProfile, when).Encode()
	require.NoError(t, err)
	second, err := NewCreated(DefaultProfile, when).Encode()
	require.NoError(t, err)

	// Same timestamp, byte-identical manifest.
	assert.Equal(t, first, second)
}

func TestNewCreated_Shape(t *testing.T) {
	when := time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600))

	encoded, err := NewCreated(DefaultProfile, when).Encode()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, "Kibala/1.0", decoded["claim_generator"])
	assert.Equal(t, "Kibala Photo", decoded["title"])

	assertions := decoded["assertions"].([]interface{})
	require.Len(t, assertions, 2)

	actions := assertions[0].(map[string]interface{})
	assert.Equal(t, "c2pa.actions", actions["label"])
	action := actions["data"].(map[string]interface{})["actions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "c2pa.created", action["action"])
	// Timestamps are normalized to UTC.
	assert.Equal(t, "2025-03-14T08:26:53Z", action["when"])

	creativeWork := assertions[1].(map[string]interface{})
	assert.Equal(t, "stds.schema-org.CreativeWork", creativeWork["label"])
	author := creativeWork["data"].(map[string]interface{})["author"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Kibala Camera", author["name"])
}

func TestNewPublished_Action(t *testing.T) {
	encoded, err := NewPublished(DefaultProfile, time.Now()).Encode()
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"action":"c2pa.published"`)
}
