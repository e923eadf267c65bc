// pcigen converts a pci.ids-style vendor/device database into a generated
// Go source file. It runs at build time; the emitted table backs the PCI
// enumerator's human-readable device names.
//
//	pcigen -in pci.ids -pkg pci -out vendor_device_gen.go
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
)

type device struct {
	id   uint16
	name string
}

type vendor struct {
	id      uint16
	name    string
	devices []device
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[pcigen] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	var (
		inPath  = flag.String("in", "pci.ids", "path to the vendor/device database")
		outPath = flag.String("out", "vendor_device_gen.go", "path of the generated Go source file")
		pkgName = flag.String("pkg", "pci", "package name for the generated file")
	)
	flag.Parse()

	vendors, err := parseDatabase(*inPath)
	if err != nil {
		exit(err)
	}

	if err = writeTable(*outPath, *pkgName, vendors); err != nil {
		exit(err)
	}

	fmt.Printf("[pcigen] wrote %d vendors to %s\n", len(vendors), *outPath)
}

// parseDatabase reads the pci.ids format: vendor lines are "vvvv  name",
// device lines are indented with a single tab. Comments, blank lines and
// the deeper subsystem entries are skipped.
func parseDatabase(path string) ([]vendor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vendors []vendor

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Subsystem entries use two tabs; the table does not carry them.
		if strings.HasPrefix(line, "\t\t") {
			continue
		}

		if strings.HasPrefix(line, "\t") {
			if len(vendors) == 0 {
				return nil, fmt.Errorf("%s: device entry before any vendor", path)
			}

			id, name, err := parseEntry(strings.TrimPrefix(line, "\t"))
			if err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
			last := &vendors[len(vendors)-1]
			last.devices = append(last.devices, device{id: id, name: name})
			continue
		}

		id, name, err := parseEntry(line)
		if err != nil {
			// The class id section at the bottom of pci.ids starts
			// with non-hex prefixes; stop there.
			break
		}
		vendors = append(vendors, vendor{id: id, name: name})
	}

	return vendors, scanner.Err()
}

// parseEntry splits a "xxxx  name" line.
func parseEntry(line string) (uint16, string, error) {
	var id uint16
	if _, err := fmt.Sscanf(line, "%04x", &id); err != nil {
		return 0, "", fmt.Errorf("malformed entry %q", line)
	}

	name := strings.TrimSpace(line[4:])
	if name == "" {
		return 0, "", fmt.Errorf("entry %q carries no name", line)
	}

	return id, name, nil
}

// writeTable emits the generated Go source.
func writeTable(path, pkgName string, vendors []vendor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "// Code generated by pcigen; DO NOT EDIT.\n\npackage %s\n\n", pkgName)

	fmt.Fprintf(w, "// Vendor names the known PCI vendors by id.\nvar Vendor = map[uint16]string{\n")
	for _, v := range vendors {
		fmt.Fprintf(w, "\t0x%04x: %q,\n", v.id, v.name)
	}
	fmt.Fprintf(w, "}\n\n")

	fmt.Fprintf(w, "// Device names the known PCI devices by (vendor << 16) | device.\nvar Device = map[uint32]string{\n")
	for _, v := range vendors {
		for _, d := range v.devices {
			fmt.Fprintf(w, "\t0x%04x%04x: %q,\n", v.id, d.id, d.name)
		}
	}
	fmt.Fprintf(w, "}\n")

	return w.Flush()
}
