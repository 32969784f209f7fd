package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sigreer/pvsync/internal/lvm"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List physical volumes known to LVM",
	Run:   runList,
}

func init() {
	listCmd.Flags().Bool("json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := newClient(cfg, logger)
	if err := client.Require(lvm.ToolPVs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	inv, err := client.ListPhysicalVolumes(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	pvs := inv.Sorted()

	if jsonOut {
		if err := writeJSON(os.Stdout, pvs); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(pvs) == 0 {
		fmt.Println("No physical volumes found.")
		return
	}

	printInventory(pvs)
}

func printInventory(pvs []lvm.PhysicalVolume) {
	fmt.Printf("%-30s %-16s %10s %10s %s\n", "PV", "VG", "SIZE", "FREE", "IN USE")
	fmt.Println(strings.Repeat("-", 78))

	var total, free uint64
	for _, pv := range pvs {
		vg := pv.VGName
		if vg == "" {
			vg = "-"
		}
		inUse := "no"
		if pv.InUse() {
			inUse = "yes"
		}
		fmt.Printf("%-30s %-16s %10s %10s %s\n",
			pv.Name, vg, humanize.IBytes(uint64(pv.Size)), humanize.IBytes(uint64(pv.Free)), inUse)

		total += uint64(pv.Size)
		free += uint64(pv.Free)
	}

	fmt.Println(strings.Repeat("-", 78))
	fmt.Printf("Total: %d PVs | Size: %s | Free: %s\n", len(pvs), humanize.IBytes(total), humanize.IBytes(free))
}
