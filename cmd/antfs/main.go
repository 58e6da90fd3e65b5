package main

import (
	"fmt"
	"os"
)

func main() {
	err := Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "antfs: %v\n", err)
		os.Exit(1)
	}
}
