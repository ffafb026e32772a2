package main

import "github.com/Togather-Foundation/attend/cmd/server/cmd"

func main() {
	cmd.Execute()
}
