package render

import (
	"context"
	"fmt"
	"io"

	"github.com/jackzampolin/scan2doc/internal/apperr"
)

// UnimplementedRasterizer satisfies Rasterizer but always fails. The real
// rasterization primitive (e.g. a cgo mupdf binding, as in Nitro-lazypdf)
// is out of scope for this engine (spec §1): operators wire in a concrete
// Rasterizer at startup. This default exists so the engine still boots
// and reports a clear, typed error per page rather than a nil-pointer
// panic when no backend has been configured.
type UnimplementedRasterizer struct{}

func (UnimplementedRasterizer) SaveToPNG(ctx context.Context, page int, scale float32, rawPayload io.Reader, output io.Writer) error {
	return fmt.Errorf("%w: no rasterizer backend configured", apperr.PermanentIO)
}

func (UnimplementedRasterizer) PageCount(ctx context.Context, rawPayload io.Reader) (int, error) {
	return 0, fmt.Errorf("%w: no rasterizer backend configured", apperr.PermanentIO)
}
