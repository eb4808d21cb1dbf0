//go:build !gui

package main

import (
	"fmt"
	"os"
)

func initGUI() {
	fmt.Fprintln(os.Stderr, "soulsync: built without GUI support (rebuild with -tags gui)")
	os.Exit(2)
}

func mountAvatar(*app) {}

func unmountAvatar() {}
