//go:build rp2040

package main

import (
	"context"
	"time"

	"altruist-go/platform"
	"altruist-go/services/config"
	"altruist-go/services/node"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	cfg, err := config.Preset("pico")
	if err != nil {
		println("Error:", err.Error())
		return
	}
	res := platform.NewRP2040(platform.PicoPlan)
	list, err := node.BuildSensors(cfg, res, nil)
	if err != nil {
		println("Warn:", err.Error())
	}
	n := node.New(cfg, list, node.Options{})
	_ = n.Run(context.Background())
}
