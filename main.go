package main

import (
	"github.com/banbox/banlabel/entry"
)

func main() {
	entry.RunCmd()
}
