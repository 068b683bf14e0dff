package main

import "github.com/racepulse/telemetry-relay-go/cmd"

func main() {
	cmd.Execute()
}
