package main

import "docconvert/cmd"

func main() {
	cmd.Execute()
}
