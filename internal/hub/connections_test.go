package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/nerrad567/edgehub-core/internal/device"
)

// mockConn is a hand-rolled DeviceConn for tests.
type mockConn struct {
	mu       sync.Mutex
	commands []Command
	pushes   []ConfigurationPush
	sendErr  error
	closed   bool
}

func (c *mockConn) SendCommand(_ context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *mockConn) SendConfiguration(_ context.Context, push ConfigurationPush) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.pushes = append(c.pushes, push)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockConn) sentCommands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.commands...)
}

func (c *mockConn) sentPushes() []ConfigurationPush {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConfigurationPush(nil), c.pushes...)
}

func indexDevice(logicalID string) *device.Device {
	return &device.Device{
		LogicalID:   logicalID,
		HardwareKey: "hw-" + logicalID,
		Status:      device.StatusOnline,
	}
}

func TestConnectionIndex_SetGetRemove(t *testing.T) {
	index := NewConnectionIndex()
	conn := &mockConn{}

	if _, ok := index.Get("pi-01"); ok {
		t.Error("Get() on empty index reported an entry")
	}

	if previous := index.Set("pi-01", conn, indexDevice("pi-01")); previous != nil {
		t.Errorf("Set() on empty index returned previous conn %v", previous)
	}

	entry, ok := index.Get("pi-01")
	if !ok {
		t.Fatal("Get() after Set() found nothing")
	}
	if entry.Conn != conn {
		t.Error("Get() returned a different connection")
	}
	if entry.Device.LogicalID != "pi-01" {
		t.Errorf("cached LogicalID = %q, want %q", entry.Device.LogicalID, "pi-01")
	}

	if !index.Remove("pi-01", conn) {
		t.Error("Remove() with the held connection returned false")
	}
	if _, ok := index.Get("pi-01"); ok {
		t.Error("entry still present after Remove()")
	}
}

func TestConnectionIndex_SetReturnsReplacedConn(t *testing.T) {
	index := NewConnectionIndex()
	first := &mockConn{}
	second := &mockConn{}

	index.Set("pi-01", first, indexDevice("pi-01"))
	previous := index.Set("pi-01", second, indexDevice("pi-01"))

	if previous != first {
		t.Errorf("Set() returned %v, want the first connection", previous)
	}

	entry, _ := index.Get("pi-01")
	if entry.Conn != second {
		t.Error("index does not hold the newest connection")
	}
}

func TestConnectionIndex_RemoveIgnoresStaleConn(t *testing.T) {
	index := NewConnectionIndex()
	old := &mockConn{}
	current := &mockConn{}

	index.Set("pi-01", old, indexDevice("pi-01"))
	index.Set("pi-01", current, indexDevice("pi-01"))

	// The old connection's disconnect must not evict the new one.
	if index.Remove("pi-01", old) {
		t.Error("Remove() with a stale connection succeeded")
	}
	if _, ok := index.Get("pi-01"); !ok {
		t.Error("current connection was evicted by a stale Remove()")
	}
}

func TestConnectionIndex_Drop(t *testing.T) {
	index := NewConnectionIndex()
	conn := &mockConn{}

	if dropped := index.Drop("pi-01"); dropped != nil {
		t.Errorf("Drop() on empty index returned %v", dropped)
	}

	index.Set("pi-01", conn, indexDevice("pi-01"))
	if dropped := index.Drop("pi-01"); dropped != conn {
		t.Errorf("Drop() returned %v, want the held connection", dropped)
	}
	if index.Len() != 0 {
		t.Errorf("Len() = %d after Drop(), want 0", index.Len())
	}
}

func TestConnectionIndex_UpdateCached(t *testing.T) {
	index := NewConnectionIndex()
	index.Set("pi-01", &mockConn{}, indexDevice("pi-01"))

	if !index.UpdateCached("pi-01", func(dev *device.Device) {
		dev.AssignedConfigID = "cfg-9"
	}) {
		t.Fatal("UpdateCached() found no entry")
	}

	entry, _ := index.Get("pi-01")
	if entry.Device.AssignedConfigID != "cfg-9" {
		t.Errorf("AssignedConfigID = %q, want %q", entry.Device.AssignedConfigID, "cfg-9")
	}

	if index.UpdateCached("ghost", func(*device.Device) {}) {
		t.Error("UpdateCached() for unknown id returned true")
	}
}

func TestConnectionIndex_GetReturnsClone(t *testing.T) {
	index := NewConnectionIndex()
	index.Set("pi-01", &mockConn{}, indexDevice("pi-01"))

	entry, _ := index.Get("pi-01")
	entry.Device.Group = "mutated"

	again, _ := index.Get("pi-01")
	if again.Device.Group == "mutated" {
		t.Error("mutating a returned snapshot leaked into the index")
	}
}

func TestConnectionIndex_ConcurrentAccess(t *testing.T) {
	index := NewConnectionIndex()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				conn := &mockConn{}
				index.Set(id, conn, indexDevice(id))
				index.Get(id)
				index.List()
				index.Remove(id, conn)
			}
		}(i)
	}
	wg.Wait()

	if index.Len() != 0 {
		t.Errorf("Len() = %d after all removals, want 0", index.Len())
	}
}
