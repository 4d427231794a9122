// Package canvas defines the abstract image-generation contract the
// canvas_render action depends on. Pixel-pushing internals are
// deliberately out of scope for the core (spec.md §1); only the
// invocation contract lives here, mirroring the platform package's
// capability-interface shape.
package canvas

import "context"

// Renderer generates an image from a named template and a set of
// parameters (already expression-evaluated by the caller), returning the
// encoded image bytes (format is implementation-defined — PNG is typical).
type Renderer interface {
	Render(ctx context.Context, template string, params map[string]any) ([]byte, error)
}
