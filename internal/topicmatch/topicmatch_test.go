package topicmatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wirenboard/wb-mqtt-db/internal/topicmatch"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"/devices/wb-adc/controls/A1", "/devices/wb-adc/controls/A1", true},
		{"/devices/+/controls/A1", "/devices/wb-adc/controls/A1", true},
		{"/devices/+/controls/A1", "/devices/wb-adc/sub/controls/A1", false},
		{"/devices/#", "/devices/wb-adc/controls/A1", true},
		{"/devices/#", "/devices", true},
		{"/devices/wb-adc/#", "/devices/wb-adc", true},
		{"/devices/wb-adc/#", "/devices/wb-adc/controls/A1/meta/type", true},
		{"/devices//controls/A1", "/devices//controls/A1", true},
		{"/devices//controls/A1", "/devices/x/controls/A1", false},
		{"/devices/+", "/devices/a/b", false},
	}

	for _, c := range cases {
		got := topicmatch.Match(c.pattern, c.topic)
		assert.Equalf(t, c.want, got, "pattern=%q topic=%q", c.pattern, c.topic)
	}
}

func TestFirstMatch(t *testing.T) {
	patterns := []string{"/devices/a/controls/+", "/devices/+/controls/+"}
	assert.Equal(t, 0, topicmatch.FirstMatch(patterns, "/devices/a/controls/x"))
	assert.Equal(t, 1, topicmatch.FirstMatch(patterns, "/devices/b/controls/x"))
	assert.Equal(t, -1, topicmatch.FirstMatch(patterns, "/nope"))
}
