package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsumerFromConfig_Validates(t *testing.T) {
	ok := Config{Brokers: []string{"127.0.0.1:9092"}, Topic: "feed", GroupID: "g"}

	for name, mut := range map[string]func(*Config){
		"brokers": func(c *Config) { c.Brokers = nil },
		"topic":   func(c *Config) { c.Topic = "" },
		"group":   func(c *Config) { c.GroupID = "" },
	} {
		t.Run(name, func(t *testing.T) {
			c := ok
			mut(&c)
			_, err := NewConsumerFromConfig(c)
			assert.Error(t, err)
		})
	}

	c, err := NewConsumerFromConfig(ok)
	require.NoError(t, err)
	assert.NoError(t, c.Commit(testContext(t)))
	assert.NoError(t, c.Close())
}
