//go:build !llama

package backend

// No-CGO stub for the in-process gguf family. Compiled when the 'llama'
// build tag is absent so default builds and CI stay CGO-free. The family is
// still registered so model tables referencing it validate; loading fails
// fast instead of mocking inference.

import (
	"fmt"

	"github.com/azaj01/openedai-vision/pkg/types"
)

// ggufBuilt indicates this binary was compiled with in-process gguf support.
var ggufBuilt = false

func init() {
	register(types.BackendGGUF, newGGUF)
}

func newGGUF(entry types.ModelEntry) (Adapter, error) {
	return nil, ErrLoad(fmt.Sprintf("model %q: gguf support not built (missing 'llama' build tag)", entry.Name))
}
