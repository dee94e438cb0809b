package main

import "github.com/brian-mwirigi/codesession/cmd"

func main() {
	cmd.Execute()
}
