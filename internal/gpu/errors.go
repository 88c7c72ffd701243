// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "errors"

var (
	// ErrResourceCreation reports that a GPU object could not be created.
	// It aborts pipeline construction; nothing created before it survives.
	ErrResourceCreation = errors.New("gpu: resource creation failed")

	// ErrSubmission reports that the queue rejected a submission or a
	// fence wait failed. The frame is lost; the call is not retried.
	ErrSubmission = errors.New("gpu: submission failed")

	// ErrMisuse reports an API contract violation such as releasing twice,
	// submitting after release, or an invalid grid.
	ErrMisuse = errors.New("gpu: misuse")

	// ErrTimeout is returned, wrapped in ErrSubmission, when a fence is not
	// reached within the configured timeout.
	ErrTimeout = errors.New("gpu: fence timeout")
)
