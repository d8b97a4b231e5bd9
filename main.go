package main

import "github.com/wpphttpd/wpphttpd/cmd"

func main() {
	cmd.Execute()
}
