package gpu

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"voxrt/internal/logging"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoAdapter is returned by Open when the backend exposes no adapter.
var ErrNoAdapter = errors.New("gpu: no adapter available")

const (
	// Buffer addresses are handed out in 256-byte steps, the alignment
	// acceleration structure results require.
	addressAlignment = 256
	addressBase      = 0x1000_0000

	defaultViewCapacity = 1 << 16
)

// Device wraps a hal device and its queue. Every buffer the renderer owns is
// created through it so it can assign a device address and, for
// shader-visible buffers, a descriptor slot.
type Device struct {
	raw     hal.Device
	queue   hal.Queue
	backend gputypes.Backend
	info    gpucontext.AdapterInfo

	mu       sync.Mutex
	nextAddr uint64
	live     int
	views    *DescriptorHeap
}

// NewDevice wraps an already opened hal device.
func NewDevice(raw hal.Device, queue hal.Queue, info gpucontext.AdapterInfo) *Device {
	return &Device{
		raw:      raw,
		queue:    queue,
		info:     info,
		nextAddr: addressBase,
		views:    NewDescriptorHeap(defaultViewCapacity),
	}
}

// ParseBackend maps a backend name to its gputypes identifier.
func ParseBackend(name string) (gputypes.Backend, error) {
	switch strings.ToLower(name) {
	case "noop", "empty", "":
		return gputypes.BackendEmpty, nil
	case "vulkan", "vk":
		return gputypes.BackendVulkan, nil
	case "metal":
		return gputypes.BackendMetal, nil
	case "dx12", "d3d12":
		return gputypes.BackendDX12, nil
	case "gl", "gles":
		return gputypes.BackendGL, nil
	}
	return gputypes.BackendEmpty, fmt.Errorf("gpu: unknown backend %q", name)
}

// Open creates an instance on a registered backend and opens the first
// adapter it exposes. The backend package must be imported for its side
// effect of registering itself (the noop backend is hal/noop).
func Open(backendName string) (*Device, error) {
	variant, err := ParseBackend(backendName)
	if err != nil {
		return nil, err
	}
	backend, ok := hal.GetBackend(variant)
	if !ok {
		return nil, fmt.Errorf("gpu: backend %s not registered", variant)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	exposed := adapters[0]
	opened, err := exposed.Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("gpu: open adapter %q: %w", exposed.Info.Name, err)
	}

	info := adapterInfo(exposed.Info)
	logging.Logger().Info("gpu: device opened",
		"backend", variant.String(),
		"adapter", info.Name,
		"type", info.Type.String())

	d := NewDevice(opened.Device, opened.Queue, info)
	d.backend = variant
	return d, nil
}

func adapterInfo(in gputypes.AdapterInfo) gpucontext.AdapterInfo {
	t := gpucontext.AdapterTypeUnknown
	switch in.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		t = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		t = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		t = gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterInfo{Name: in.Name, Type: t}
}

// HAL returns the wrapped hal device.
func (d *Device) HAL() hal.Device { return d.raw }

// Queue returns the device's hal queue.
func (d *Device) Queue() hal.Queue { return d.queue }

// AdapterInfo describes the adapter the device was opened on.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo { return d.info }

// Views returns the descriptor heap shader-visible buffers draw slots from.
func (d *Device) Views() *DescriptorHeap { return d.views }

// LiveBuffers returns the number of buffers created and not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// CreateBuffer allocates a buffer of size bytes.
// Storage buffers are shader-visible and receive a descriptor slot.
func (d *Device) CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("gpu: create buffer %q: zero size", label)
	}
	raw, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %q (%d bytes): %w", label, size, err)
	}

	d.mu.Lock()
	addr := d.nextAddr
	d.nextAddr += alignUp(size, addressAlignment)
	d.live++
	d.mu.Unlock()

	b := &Buffer{
		raw:     raw,
		Label:   label,
		Size:    size,
		Usage:   usage,
		Address: addr,
		View:    NoView,
	}
	if usage.Contains(gputypes.BufferUsageStorage) {
		b.View = d.views.Allocate(b)
	}
	return b, nil
}

// CreateBufferWithData creates a host-writable buffer and fills it with data.
// Used for staging uploads.
func (d *Device) CreateBufferWithData(label string, data []byte, usage gputypes.BufferUsage) (*Buffer, error) {
	b, err := d.CreateBuffer(label, uint64(len(data)), usage|gputypes.BufferUsageMapWrite)
	if err != nil {
		return nil, err
	}
	if err := d.write(b, 0, data); err != nil {
		d.DestroyBuffer(b)
		return nil, err
	}
	return b, nil
}

func (d *Device) write(b *Buffer, offset uint64, data []byte) error {
	m, err := d.raw.MapBuffer(b.raw, offset, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("gpu: map %q for write: %w", b.Label, err)
	}
	copy(unsafe.Slice((*byte)(m.Ptr), len(data)), data)
	if err := d.raw.UnmapBuffer(b.raw); err != nil {
		return fmt.Errorf("gpu: unmap %q: %w", b.Label, err)
	}
	return nil
}

// ReadBuffer copies size bytes at offset out of b. b must be host-visible;
// on the noop backend every buffer is.
func (d *Device) ReadBuffer(b *Buffer, offset, size uint64) ([]byte, error) {
	m, err := d.raw.MapBuffer(b.raw, offset, size)
	if err != nil {
		return nil, fmt.Errorf("gpu: map %q for read: %w", b.Label, err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.raw.UnmapBuffer(b.raw); err != nil {
		return nil, fmt.Errorf("gpu: unmap %q: %w", b.Label, err)
	}
	return out, nil
}

// DestroyBuffer releases b and its descriptor slot. Destroying nil is a no-op.
// Callers must make sure no in-flight work still references b; see Retirer.
func (d *Device) DestroyBuffer(b *Buffer) {
	if b == nil || b.raw == nil {
		return
	}
	if b.View != NoView {
		d.views.Free(b.View)
		b.View = NoView
	}
	d.raw.DestroyBuffer(b.raw)
	b.raw = nil

	d.mu.Lock()
	d.live--
	d.mu.Unlock()
	logging.Logger().Debug("gpu: buffer destroyed", "label", b.Label, "size", b.Size)
}

// WaitIdle blocks until the device has finished all submitted work.
func (d *Device) WaitIdle() error {
	if err := d.raw.WaitIdle(); err != nil {
		return fmt.Errorf("gpu: wait idle: %w", err)
	}
	return nil
}

// Close waits for the device to go idle and destroys it.
func (d *Device) Close() {
	if d.raw == nil {
		return
	}
	if err := d.WaitIdle(); err != nil {
		logging.Logger().Error("gpu: close", "err", err)
	}
	if n := d.LiveBuffers(); n > 0 {
		logging.Logger().Warn("gpu: closing device with live buffers", "count", n)
	}
	d.raw.Destroy()
	d.raw = nil
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
