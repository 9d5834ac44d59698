package main

import "github.com/open-dataflow/envforge"

func main() {
	envforge.Run()
}
