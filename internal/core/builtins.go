package core

import (
	"embed"
	"io/fs"
	"sync"

	"github.com/wot-js/runtime/internal/bundle"
)

//go:embed assets/*.js
var assetsFS embed.FS

var builtinsOnce sync.Once

// registerBuiltins places the statically linked bootstrap modules into
// the default registry. Idempotent; runs before the first runtime is
// constructed.
func registerBuiltins() {
	builtinsOnce.Do(func() {
		sub, err := fs.Sub(assetsFS, "assets")
		if err != nil {
			panic(err)
		}
		if err := bundle.Default.RegisterFS(sub, "@tjs"); err != nil {
			panic(err)
		}
	})
}
