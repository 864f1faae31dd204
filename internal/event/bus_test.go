package event

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](sub *Subscription[T]) []T {
	var out []T
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewBus[int]("test", logrus.New())
	a := bus.Subscribe(16)
	b := bus.Subscribe(16)

	for i := 1; i <= 5; i++ {
		assert.Equal(t, 2, bus.Publish(i))
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain(a))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain(b))
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	bus := NewBus[int]("test", logrus.New())
	sub := bus.Subscribe(3)

	for i := 1; i <= 5; i++ {
		bus.Publish(i)
	}

	assert.Equal(t, []int{3, 4, 5}, drain(sub), "retained values MUST keep publish order")
	assert.Equal(t, int64(2), sub.Dropped())
}

func TestBus_CloseSemantics(t *testing.T) {
	t.Run("subscription close is idempotent and unsubscribes", func(t *testing.T) {
		bus := NewBus[string]("test", nil)
		sub := bus.Subscribe(0)
		require.Equal(t, 1, bus.Len())

		sub.Close()
		sub.Close()

		assert.Equal(t, 0, bus.Len())
		assert.Equal(t, 0, bus.Publish("late"))
		_, ok := <-sub.C()
		assert.False(t, ok, "channel MUST be closed")
	})

	t.Run("bus close ends every subscription", func(t *testing.T) {
		bus := NewBus[string]("test", nil)
		a := bus.Subscribe(4)
		b := bus.Subscribe(4)
		bus.Publish("x")

		bus.Close()
		bus.Close()
		a.Close()

		assert.Equal(t, []string{"x"}, drain(a))
		assert.Equal(t, []string{"x"}, drain(b))
		assert.Equal(t, 0, bus.Publish("y"))

		late := bus.Subscribe(1)
		_, ok := <-late.C()
		assert.False(t, ok, "subscribing to a closed bus MUST yield a closed subscription")
	})
}

func TestBus_ConcurrentSubscribersAndPublisher(t *testing.T) {
	bus := NewBus[int]("test", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe(4)
			bus.Publish(1)
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, bus.Len())
}

func TestSensorEvent(t *testing.T) {
	reading := SensorEvent{Kind: KindThermometer, Channel: sensor.Thermometer, Text: "36.6 °C", Session: 3}
	assert.True(t, reading.IsReading())
	assert.Equal(t, "thermometer[3]: 36.6 °C", reading.String())

	lifecycle := SensorEvent{Kind: KindConnected, Session: 3}
	assert.False(t, lifecycle.IsReading())
	assert.Equal(t, "connected[3]", lifecycle.String())

	kind, ok := KindForChannel(sensor.Accelerometer)
	assert.True(t, ok)
	assert.Equal(t, KindAccelerometer, kind)
	_, ok = KindForChannel("humidity")
	assert.False(t, ok)
	assert.Equal(t, "kind(42)", Kind(42).String())
}
