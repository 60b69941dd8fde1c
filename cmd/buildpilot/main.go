// Command buildpilot drives an IDE build and installs the result on a device.
package main

import "github.com/devicelab-dev/buildpilot/pkg/cli"

func main() {
	cli.Execute()
}
