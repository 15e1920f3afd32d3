package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_Delay(t *testing.T) {
	p := ExponentialBackoff{
		Min: 100 * time.Millisecond,
		Max: time.Second,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))

	// Capped at Max.
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	p := ExponentialBackoff{
		Min:    100 * time.Millisecond,
		Max:    time.Second,
		Jitter: 0.5,
	}

	for n := 0; n < 5; n++ {
		base := ExponentialBackoff{Min: p.Min, Max: p.Max}.Delay(n)
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2)
	}
}

func TestConstantBackoff_Delay(t *testing.T) {
	p := ConstantBackoff{Interval: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, p.Delay(0))
	assert.Equal(t, 50*time.Millisecond, p.Delay(9))
}
