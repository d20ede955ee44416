package main

import "github.com/example/imgsearch/cmd"

func main() {
	cmd.Execute()
}
