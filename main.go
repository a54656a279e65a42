// ./main.go
package main

import (
	"github.com/sensorkit/sensorctl/cmd"
)

// main is the entry point for the sensorctl application. Command line
// parsing, configuration, and execution all live in the cmd package.
func main() {
	cmd.Execute()
}
