package gpu

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/fog/internal/noise"
	"github.com/gogpu/fog/internal/params"
)

var errInjected = errors.New("injected failure")

// openNoopDevice opens the noop backend.
func openNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// trackingDevice wraps a hal.Device and counts live objects per kind. A
// creation whose descriptor label equals failLabel fails.
type trackingDevice struct {
	hal.Device

	mu         sync.Mutex
	live       map[string]int
	labels     []string
	failLabel  string
	failFence  bool
	dispatches [][3]uint32
}

func newTrackingDevice(inner hal.Device) *trackingDevice {
	return &trackingDevice{Device: inner, live: make(map[string]int)}
}

func (d *trackingDevice) created(kind, label string) {
	d.mu.Lock()
	d.live[kind]++
	d.labels = append(d.labels, label)
	d.mu.Unlock()
}

func (d *trackingDevice) destroyed(kind string) {
	d.mu.Lock()
	d.live[kind]--
	d.mu.Unlock()
}

func (d *trackingDevice) shouldFail(label string) bool {
	return d.failLabel != "" && d.failLabel == label
}

// liveTotal returns the number of objects created and not yet destroyed.
func (d *trackingDevice) liveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.live {
		n += c
	}
	return n
}

func (d *trackingDevice) negative() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for k, c := range d.live {
		if c < 0 {
			out = append(out, k)
		}
	}
	return out
}

func (d *trackingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	b, err := d.Device.CreateBuffer(desc)
	if err == nil {
		d.created("buffer", desc.Label)
	}
	return b, err
}

func (d *trackingDevice) DestroyBuffer(b hal.Buffer) {
	d.destroyed("buffer")
	d.Device.DestroyBuffer(b)
}

func (d *trackingDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	tex, err := d.Device.CreateTexture(desc)
	if err != nil {
		return nil, err
	}
	d.created("texture", desc.Label)
	return &trackedTexture{Texture: tex, label: desc.Label}, nil
}

func (d *trackingDevice) DestroyTexture(tex hal.Texture) {
	d.destroyed("texture")
	d.Device.DestroyTexture(unwrapTexture(tex))
}

func (d *trackingDevice) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	v, err := d.Device.CreateTextureView(unwrapTexture(tex), desc)
	if err == nil {
		d.created("texture_view", desc.Label)
	}
	return v, err
}

func (d *trackingDevice) DestroyTextureView(v hal.TextureView) {
	d.destroyed("texture_view")
	d.Device.DestroyTextureView(v)
}

func (d *trackingDevice) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	s, err := d.Device.CreateSampler(desc)
	if err == nil {
		d.created("sampler", desc.Label)
	}
	return s, err
}

func (d *trackingDevice) DestroySampler(s hal.Sampler) {
	d.destroyed("sampler")
	d.Device.DestroySampler(s)
}

func (d *trackingDevice) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	m, err := d.Device.CreateShaderModule(desc)
	if err == nil {
		d.created("shader_module", desc.Label)
	}
	return m, err
}

func (d *trackingDevice) DestroyShaderModule(m hal.ShaderModule) {
	d.destroyed("shader_module")
	d.Device.DestroyShaderModule(m)
}

func (d *trackingDevice) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	l, err := d.Device.CreateBindGroupLayout(desc)
	if err == nil {
		d.created("bind_group_layout", desc.Label)
	}
	return l, err
}

func (d *trackingDevice) DestroyBindGroupLayout(l hal.BindGroupLayout) {
	d.destroyed("bind_group_layout")
	d.Device.DestroyBindGroupLayout(l)
}

func (d *trackingDevice) CreatePipelineLayout(desc *hal.PipelineLayoutDescriptor) (hal.PipelineLayout, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	l, err := d.Device.CreatePipelineLayout(desc)
	if err == nil {
		d.created("pipeline_layout", desc.Label)
	}
	return l, err
}

func (d *trackingDevice) DestroyPipelineLayout(l hal.PipelineLayout) {
	d.destroyed("pipeline_layout")
	d.Device.DestroyPipelineLayout(l)
}

func (d *trackingDevice) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	p, err := d.Device.CreateComputePipeline(desc)
	if err == nil {
		d.created("compute_pipeline", desc.Label)
	}
	return p, err
}

func (d *trackingDevice) DestroyComputePipeline(p hal.ComputePipeline) {
	d.destroyed("compute_pipeline")
	d.Device.DestroyComputePipeline(p)
}

func (d *trackingDevice) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	if d.shouldFail(desc.Label) {
		return nil, errInjected
	}
	g, err := d.Device.CreateBindGroup(desc)
	if err == nil {
		d.created("bind_group", desc.Label)
	}
	return g, err
}

func (d *trackingDevice) DestroyBindGroup(g hal.BindGroup) {
	d.destroyed("bind_group")
	d.Device.DestroyBindGroup(g)
}

func (d *trackingDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	if d.shouldFail(desc.Label + "_batch") {
		return nil, errInjected
	}
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &trackingEncoder{CommandEncoder: enc, device: d, label: desc.Label}, nil
}

func (d *trackingDevice) FreeCommandBuffer(cb hal.CommandBuffer) {
	d.destroyed("command_buffer")
	if tb, ok := cb.(*trackedBuffer); ok {
		cb = tb.CommandBuffer
	}
	d.Device.FreeCommandBuffer(cb)
}

func (d *trackingDevice) CreateFence() (hal.Fence, error) {
	if d.failFence {
		return nil, errInjected
	}
	f, err := d.Device.CreateFence()
	if err == nil {
		d.created("fence", "fence")
	}
	return f, err
}

func (d *trackingDevice) DestroyFence(f hal.Fence) {
	d.destroyed("fence")
	d.Device.DestroyFence(f)
}

// trackedTexture names a texture so barriers on it can be told apart.
type trackedTexture struct {
	hal.Texture
	label string
}

func unwrapTexture(tex hal.Texture) hal.Texture {
	if tt, ok := tex.(*trackedTexture); ok {
		return tt.Texture
	}
	return tex
}

// recordedBarrier is one texture transition as recorded into a batch.
type recordedBarrier struct {
	texture  string
	from, to gputypes.TextureUsage
}

// trackedBuffer is a finished command buffer and the barriers recorded
// into it, in order.
type trackedBuffer struct {
	hal.CommandBuffer
	label    string
	barriers []recordedBarrier
}

// trackingEncoder counts finished command buffers and records dispatches
// and texture barriers.
type trackingEncoder struct {
	hal.CommandEncoder
	device   *trackingDevice
	label    string
	barriers []recordedBarrier
}

func (e *trackingEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	forward := make([]hal.TextureBarrier, len(barriers))
	for i, b := range barriers {
		name := "untracked"
		if tt, ok := b.Texture.(*trackedTexture); ok {
			name = tt.label
		}
		e.barriers = append(e.barriers, recordedBarrier{texture: name, from: b.Usage.OldUsage, to: b.Usage.NewUsage})
		b.Texture = unwrapTexture(b.Texture)
		forward[i] = b
	}
	e.CommandEncoder.TransitionTextures(forward)
}

func (e *trackingEncoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	return &trackingPass{ComputePassEncoder: e.CommandEncoder.BeginComputePass(desc), device: e.device}
}

func (e *trackingEncoder) EndEncoding() (hal.CommandBuffer, error) {
	cb, err := e.CommandEncoder.EndEncoding()
	if err != nil {
		return nil, err
	}
	e.device.created("command_buffer", e.label)
	return &trackedBuffer{CommandBuffer: cb, label: e.label, barriers: e.barriers}, nil
}

type trackingPass struct {
	hal.ComputePassEncoder
	device *trackingDevice
}

func (p *trackingPass) Dispatch(x, y, z uint32) {
	p.device.mu.Lock()
	p.device.dispatches = append(p.device.dispatches, [3]uint32{x, y, z})
	p.device.mu.Unlock()
	p.ComputePassEncoder.Dispatch(x, y, z)
}

// recordingQueue is an ExecutionQueue that records what it is asked to do.
type recordingQueue struct {
	mu          sync.Mutex
	submissions []Submission
	waits       []SignalPoint
	idleWaits   int
	bufferWrite int
	textureByte int

	failSubmitAt int // 1-based index of the submission that fails; 0 never
	waitErr      error
	idleErr      error
}

func (q *recordingQueue) Submit(s Submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failSubmitAt > 0 && len(q.submissions)+1 == q.failSubmitAt {
		q.failSubmitAt = 0
		return errInjected
	}
	s.Wait = append([]SignalPoint(nil), s.Wait...)
	q.submissions = append(q.submissions, s)
	return nil
}

func (q *recordingQueue) WaitFor(p SignalPoint, _ time.Duration) error {
	if p.IsZero() {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waits = append(q.waits, p)
	return q.waitErr
}

func (q *recordingQueue) WaitIdle(_ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idleWaits++
	return q.idleErr
}

func (q *recordingQueue) WriteBuffer(_ hal.Buffer, _ uint64, _ []byte) {
	q.mu.Lock()
	q.bufferWrite++
	q.mu.Unlock()
}

func (q *recordingQueue) WriteTexture(_ *hal.ImageCopyTexture, data []byte, _ *hal.ImageDataLayout, _ *hal.Extent3D) {
	q.mu.Lock()
	q.textureByte += len(data)
	q.mu.Unlock()
}

// fogFixture is a tracked device, a recording queue and a configuration
// ready to pass to New.
type fogFixture struct {
	device *trackingDevice
	queue  *recordingQueue
	cfg    Config
}

func newFogFixture(t *testing.T, grid Grid) *fogFixture {
	t.Helper()
	inner, _ := openNoopDevice(t)

	// The position image belongs to the host renderer, so it is created on
	// the untracked device.
	posTex, err := inner.CreateTexture(&hal.TextureDescriptor{
		Label:         "positions",
		Size:          hal.Extent3D{Width: grid.Width, Height: grid.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("create position texture: %v", err)
	}
	posView, err := inner.CreateTextureView(posTex, &hal.TextureViewDescriptor{
		Label:         "positions_view",
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		t.Fatalf("create position view: %v", err)
	}
	t.Cleanup(func() {
		inner.DestroyTextureView(posView)
		inner.DestroyTexture(posTex)
	})

	vol, err := noise.Generate(8, 1)
	if err != nil {
		t.Fatalf("generate noise: %v", err)
	}

	p := params.DefaultParameters()
	p.MapWidth, p.MapHeight, p.MapDepth = grid.Width, grid.Height, grid.Depth

	return &fogFixture{
		device: newTrackingDevice(inner),
		queue:  &recordingQueue{},
		cfg: Config{
			Grid:      grid,
			Store:     params.NewStore(p, params.DefaultShapes()),
			Noise:     vol,
			Positions: posView,
		},
	}
}
