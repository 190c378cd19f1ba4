// ibforge builds OpenWrt and ImmortalWrt firmware images with the
// prebuilt Image Builder, once per tunnel variant.
package main

import (
	"os"

	"github.com/bitswalk/ibforge/src/ibforge/core"
)

func main() {
	os.Exit(core.Execute())
}
