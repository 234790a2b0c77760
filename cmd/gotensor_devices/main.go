// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// gotensor_devices reports the state of the runtime registries: which device
// tags have backends, their device counts and capabilities, and which
// operators have kernels registered for which dispatch keys.
package main

import (
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"

	_ "github.com/gotensor/gotensor/pkg/backends/cpu"
	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/generator"
	"github.com/gotensor/gotensor/pkg/core/storage"
)

var (
	flagDevices = flag.Bool("devices", true, "Display the device registry: one row per tag with its backend capabilities.")
	flagOps     = flag.Bool("ops", false, "Display the dispatch table: one row per operator with its registered keys.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		}).
		Headers(headers...)
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagDevices {
		reportDevices()
	}
	if *flagOps {
		reportOps()
	}
}

func reportDevices() {
	table := newTable("Tag", "Registered", "Devices", "Generator", "Hooks", "Storage Ctor")
	reg := device.Global()
	for tag := device.Tag(0); int(tag) < device.NumTags; tag++ {
		row := []string{tag.String(), "no", "-", "-", "-", "-"}
		if d, err := reg.Lookup(tag); err == nil {
			row[1] = "yes"
			row[2] = strconv.Itoa(d.Guard.DeviceCount())
			if generator.Global().HasFactory(tag) {
				row[3] = "yes"
			}
			if d.Hooks != nil {
				row[4] = "yes"
			}
			if storage.CtorFor(tag) != nil {
				row[5] = "yes"
			}
		}
		table.Row(row...)
	}
	fmt.Println(table.Render())

	if accel, ok := reg.DefaultAccelerator(); ok {
		fmt.Printf("Default accelerator: %s\n", accel)
	} else {
		fmt.Println("Default accelerator: none")
	}
	fmt.Printf("Enumerated devices: %v\n", reg.Devices())
}

func reportOps() {
	ops := dispatch.GlobalTable().Ops()
	names := maps.Keys(ops)
	sort.Strings(names)

	table := newTable("Operator", "Args", "Keys", "Doc")
	for _, name := range names {
		keys := make([]string, 0, len(ops[name]))
		for _, key := range ops[name] {
			keys = append(keys, key.String())
		}
		numArgs, doc := "-", ""
		if schema, found := dispatch.GlobalTable().Schema(name); found {
			numArgs = strconv.Itoa(schema.NumArgs)
			doc = schema.Doc
		}
		table.Row(name, numArgs, strings.Join(keys, ", "), doc)
	}
	fmt.Println(table.Render())
}
