package main

import (
	"github.com/sidkik/viewsync/cmd"
	"github.com/sidkik/viewsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
