//go:build !windows

package terminal

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns stdout, *nix terminals interpret ANSI escape
// codes natively.
func getColorableWriter() io.Writer {
	return colorable.NewColorable(os.Stdout)
}
