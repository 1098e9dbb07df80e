package main

import "github.com/kiesman99/anaxi/cmd"

func main() {
	cmd.Execute()
}
