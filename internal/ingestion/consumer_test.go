package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNakDelayBacksOffExponentially(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	tests := []struct {
		name         string
		numDelivered uint64
		want         time.Duration
	}{
		{"first attempt uses base", 1, time.Second},
		{"second attempt doubles", 2, 2 * time.Second},
		{"third attempt doubles again", 3, 4 * time.Second},
		{"sixth attempt capped at max", 6, 30 * time.Second},
		{"huge attempt count stays capped", 40, 30 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nakDelay(tc.numDelivered, base, max))
		})
	}
}
