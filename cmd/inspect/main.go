// Command inspect dumps the raw key space of a database for debugging.
package main

import (
	"flag"
	"fmt"
	"os"

	"parley/pkg/store"
)

func main() {
	var (
		dbPath string
		prefix string
		values bool
	)
	flag.StringVar(&dbPath, "db", "", "Pebble DB path")
	flag.StringVar(&prefix, "prefix", "", "only keys with this prefix (e.g. user:, msg:, idx:)")
	flag.BoolVar(&values, "values", false, "print raw values as hex next to each key")
	flag.Parse()
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	keys, err := st.Keys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		if !values {
			fmt.Println(k)
			continue
		}
		v, ok, err := st.GetRaw(k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", k, err)
			os.Exit(1)
		}
		if !ok {
			continue
		}
		fmt.Printf("%s\t%x\n", k, v)
	}
}
