package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKafkaSink_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaSink(nil, "t", nil)
	assert.Error(t, err)
	_, err = NewKafkaSink([]string{"localhost:9092"}, "", nil)
	assert.Error(t, err)
}
