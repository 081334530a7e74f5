//go:build !linux

package archive

import "os"

func adviseSequential(*os.File) {}
