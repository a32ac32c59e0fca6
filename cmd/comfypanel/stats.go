package main

import (
	"context"
	"fmt"

	"github.com/richinsley/comfypanel/client"
)

// displaySystemStats prints what the backend reports about itself and its queue
func displaySystemStats(ctx context.Context, c *client.ComfyClient) error {
	stats, err := c.GetSystemStats(ctx)
	if err != nil {
		return fmt.Errorf("getting system stats: %w", err)
	}
	fmt.Printf("Backend: %s\n", c.Endpoint())
	fmt.Println("System Stats:")
	fmt.Printf("\tOS: %s\n", stats.System.OS)
	fmt.Printf("\tPython Version: %s\n", stats.System.PythonVersion)
	if stats.System.ComfyUIVersion != "" {
		fmt.Printf("\tComfyUI Version: %s\n", stats.System.ComfyUIVersion)
	}
	fmt.Println("\tDevices:")
	for _, dev := range stats.Devices {
		fmt.Printf("\t\tIndex: %d\n", dev.Index)
		fmt.Printf("\t\tName: %s\n", dev.Name)
		fmt.Printf("\t\tType: %s\n", dev.Type)
		fmt.Printf("\t\tVRAM Total %d\n", dev.VRAM_Total)
		fmt.Printf("\t\tVRAM Free %d\n", dev.VRAM_Free)
	}

	queue, err := c.GetQueueExecutionInfo(ctx)
	if err != nil {
		return fmt.Errorf("getting queue info: %w", err)
	}
	fmt.Printf("Queue remaining: %d\n", queue.ExecInfo.QueueRemaining)
	return nil
}
