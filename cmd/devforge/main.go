package main

import forge "github.com/theredguild/devforge"

func main() {
	forge.Run()
}
