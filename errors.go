package fog

import (
	"github.com/gogpu/fog/internal/gpu"
	"github.com/gogpu/fog/internal/hotreload"
)

// Errors returned by fog. Match them with errors.Is.
var (
	// ErrResourceCreation reports that a GPU object or the noise volume
	// could not be created. Nothing from the failed construction survives.
	ErrResourceCreation = gpu.ErrResourceCreation

	// ErrSubmission reports a rejected queue submission or a failed fence
	// wait. The frame is lost and not retried.
	ErrSubmission = gpu.ErrSubmission

	// ErrMisuse reports an API contract violation: releasing twice, use
	// after release, an invalid grid or shape index, or a nil collaborator.
	ErrMisuse = gpu.ErrMisuse

	// ErrTimeout is wrapped in ErrSubmission when a fence wait times out.
	ErrTimeout = gpu.ErrTimeout

	// ErrKernelRejected is logged by the hot reloader when an edited kernel
	// does not compile.
	ErrKernelRejected = hotreload.ErrRejected
)
