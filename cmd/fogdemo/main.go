// Command fogdemo runs the volumetric fog pipeline headless.
//
// It opens a GPU device, feeds the fog a synthetic position image of a
// ground plane under open sky, submits a number of frames and prints the
// frame timings.
//
// Usage:
//
//	fogdemo [-backend vulkan|noop] [-preset mist.toml] [-frames 120] [-watch dir]
//	fogdemo -check [-kernels dir]
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	_ "github.com/gogpu/wgpu/hal/vulkan"
	"github.com/x448/float16"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/fog"
	"github.com/gogpu/fog/preset"
)

func main() {
	var (
		backend = flag.String("backend", "vulkan", "GPU backend: vulkan or noop")
		presetF = flag.String("preset", "", "TOML or YAML preset file")
		frames  = flag.Int("frames", 120, "frames to submit, 0 runs until interrupted")
		watch   = flag.String("watch", "", "directory with density.wgsl / reduction.wgsl overrides to hot reload")
		kernels = flag.String("kernels", "", "directory with kernel overrides loaded once")
		check   = flag.Bool("check", false, "compile the kernels with naga and exit")
		fov     = flag.Float64("fov", 60, "vertical field of view of the synthetic camera in degrees")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	fog.SetLogger(log)

	src, err := loadKernels(*kernels)
	if err != nil {
		fatal(log, "load kernels", err)
	}
	if *check {
		if err := fog.ValidateKernels(src); err != nil {
			fatal(log, "kernel check", err)
		}
		log.Info("kernels compile")
		return
	}

	opts := []fog.Option{fog.WithKernelSources(src), fog.WithCamera(0.1, 50)}
	if *presetF != "" {
		p, err := preset.Open(*presetF)
		if err != nil {
			fatal(log, "open preset", err)
		}
		if err := p.Check(); err != nil {
			log.Warn("preset values outside their editing ranges", "err", err)
		}
		opts = append(opts, p.Options()...)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, log, *backend, *frames, *watch, float32(*fov), opts); err != nil {
		fatal(log, "run", err)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

// loadKernels reads the override files in dir. Missing files keep the
// embedded kernels.
func loadKernels(dir string) (fog.KernelSources, error) {
	var k fog.KernelSources
	if dir == "" {
		return k, nil
	}
	for name, dst := range map[string]*string{"density.wgsl": &k.Density, "reduction.wgsl": &k.Reduction} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return k, err
		}
		*dst = string(b)
	}
	return k, nil
}

type gpuContext struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string
}

func (g *gpuContext) Destroy() {
	if g.device != nil {
		g.device.Destroy()
	}
	if g.instance != nil {
		g.instance.Destroy()
	}
}

func openGPU(backend string) (*gpuContext, error) {
	var (
		instance hal.Instance
		err      error
	)
	switch backend {
	case "noop":
		api := noop.API{}
		instance, err = api.CreateInstance(nil)
	case "vulkan":
		b, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, fmt.Errorf("vulkan backend not available")
		}
		instance, err = b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	g := &gpuContext{instance: instance}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		g.Destroy()
		return nil, fmt.Errorf("no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		g.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	g.device, g.queue, g.name = openDev.Device, openDev.Queue, selected.Info.Name
	return g, nil
}

func run(ctx context.Context, log *slog.Logger, backend string, frames int, watch string, fov float32, opts []fog.Option) error {
	g, err := openGPU(backend)
	if err != nil {
		return err
	}
	defer g.Destroy()
	log.Info("fogdemo: device open", "backend", backend, "adapter", g.name)

	// The position image matches the fog image.
	grid := fog.ResolveGrid(opts...)
	pos, err := newPositionImage(g.device, grid.Width, grid.Height)
	if err != nil {
		return err
	}
	defer pos.destroy(g.device)

	f, err := fog.New(g.device, g.queue, pos.view, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Release(); err != nil {
			log.Error("fogdemo: release", "err", err)
		}
	}()
	pos.upload(f.Queue(), fov)

	if watch != "" {
		stop, err := f.WatchKernels(ctx, watch)
		if err != nil {
			return err
		}
		defer func() {
			if err := stop(); err != nil {
				log.Warn("fogdemo: stop watcher", "err", err)
			}
		}()
		log.Info("fogdemo: watching kernels", "dir", watch)
	}

	var (
		timer   = fog.NewTimer()
		wall    = time.Now()
		slowest float32
		n       int
	)
	for frames == 0 || n < frames {
		if ctx.Err() != nil {
			break
		}
		dt := timer.Lap()
		sig, err := f.Frame(dt)
		if err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		if err := f.Queue().WaitFor(sig, fog.DefaultFenceTimeout); err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		slowest = max(slowest, timer.Elapsed())
		n++
	}

	grid = f.Grid()
	voxels := uint64(grid.Width) * uint64(grid.Height) * uint64(grid.Depth)
	elapsed := time.Since(wall)
	p := message.NewPrinter(language.English)
	p.Printf("%d frames over a %s grid (%d voxels) in %v\n", n, grid, voxels, elapsed.Round(time.Millisecond))
	if n > 0 {
		p.Printf("mean %.3f ms, slowest frame %.3f ms\n",
			float64(elapsed.Microseconds())/float64(n)/1000, slowest*1000)
	}
	return nil
}

// positionImage is a view-space position texture for a camera looking down
// -z at a ground plane. Sky texels carry w = 0.
type positionImage struct {
	tex           hal.Texture
	view          hal.TextureView
	width, height uint32
}

const positionFormat = gputypes.TextureFormatRGBA16Float

func newPositionImage(device hal.Device, width, height uint32) (*positionImage, error) {
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "fogdemo_positions",
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        positionFormat,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create position texture: %w", err)
	}
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "fogdemo_positions_view",
		Format:        positionFormat,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		device.DestroyTexture(tex)
		return nil, fmt.Errorf("create position view: %w", err)
	}
	return &positionImage{tex: tex, view: view, width: width, height: height}, nil
}

func (p *positionImage) destroy(device hal.Device) {
	device.DestroyTextureView(p.view)
	device.DestroyTexture(p.tex)
}

// upload writes the ground plane as seen from the origin.
func (p *positionImage) upload(q fog.ExecutionQueue, fovDegrees float32) {
	data := groundPlane(p.width, p.height, fovDegrees)
	q.WriteTexture(
		&hal.ImageCopyTexture{Texture: p.tex, MipLevel: 0},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: p.width * 8, RowsPerImage: p.height},
		&hal.Extent3D{Width: p.width, Height: p.height, DepthOrArrayLayers: 1},
	)
}

const (
	groundY   = -3
	farCutoff = 50
)

// groundPlane returns RGBA16Float texels of the view-space hit positions.
func groundPlane(width, height uint32, fovDegrees float32) []byte {
	data := make([]byte, 0, int(width)*int(height)*8)
	aspect := float32(width) / float32(height)
	tanHalf := math32.Tan(mgl32.DegToRad(fovDegrees / 2))

	put := func(v mgl32.Vec4) {
		for _, c := range v {
			data = binary.LittleEndian.AppendUint16(data, float16.Fromfloat32(c).Bits())
		}
	}
	for y := range height {
		for x := range width {
			ndcX := (2*(float32(x)+0.5)/float32(width) - 1) * aspect * tanHalf
			ndcY := (1 - 2*(float32(y)+0.5)/float32(height)) * tanHalf
			dir := mgl32.Vec3{ndcX, ndcY, -1}.Normalize()
			if dir.Y() >= 0 {
				put(mgl32.Vec4{})
				continue
			}
			hit := dir.Mul(groundY / dir.Y())
			if hit.Len() > farCutoff {
				put(mgl32.Vec4{})
				continue
			}
			put(hit.Vec4(1))
		}
	}
	return data
}
