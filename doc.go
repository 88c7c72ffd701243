// Package fog provides a view-dependent volumetric fog effect for deferred
// renderers built on gogpu/wgpu.
//
// # Overview
//
// The effect runs as two GPU compute stages. The Density stage ray-marches a
// few smooth-blended fog spheres and a tiling 3D noise texture into a
// width x height x depth volume aligned with the view frustum. The
// Reduction stage composites that volume front to back into a 2D RGBA fog
// image: in-scattered light in rgb, opacity in alpha. The lighting pass
// samples that image after waiting on the completion signal of the frame.
//
// # Quick Start
//
//	import "github.com/gogpu/fog"
//
//	f, err := fog.New(device, queue, positionView,
//	    fog.WithGrid(640, 360, 512),
//	    fog.WithCamera(0.1, 100),
//	)
//	if err != nil {
//	    return err
//	}
//	defer f.Release()
//
//	timer := fog.NewTimer()
//	for running {
//	    geometryDone := renderGeometry(f.Queue())
//	    fogDone, err := f.Frame(timer.Lap(), geometryDone)
//	    if err != nil {
//	        return err
//	    }
//	    renderLighting(f.OutputBinding(), fogDone)
//	}
//
// # Settings
//
// Store returns the parameter store. Edits made between frames set its dirty
// flag; the next Frame uploads the new values after the previous frame has
// finished with them. Near, far and the grid size are fixed at creation.
//
// # Synchronization
//
// Frame and Submit return a SignalPoint. The consumer of the fog image must
// not read it before that point is reached. The geometry pass hands its own
// SignalPoint to Frame so the Density stage never reads a stale position
// image.
//
// # Logging
//
// The library is silent by default. SetLogger enables structured logging for
// the pipeline and the kernel hot reloader.
package fog

// Version is the current version of the library.
const Version = "0.1.0"
