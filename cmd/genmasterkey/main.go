// Command genmasterkey writes a fresh master key for the portal's cookie
// sealing and the CLI's session file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"kolibri/internal/crypto"
	"kolibri/internal/files"
	"kolibri/internal/utils"
)

func main() {
	dir := flag.String("dir", "", "directory for master.key (default the state dir)")
	force := flag.Bool("force", false, "overwrite an existing key; existing sessions stop working")
	flag.Parse()

	if *dir == "" {
		home, err := utils.DefaultHome()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		*dir = home
	}
	path, err := files.WriteMasterKey(*dir, crypto.GenerateMasterKey(), *force)
	if errors.Is(err, files.ErrKeyExists) {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Refusing to overwrite without --force.\n", files.MasterKeyPath(*dir))
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing master key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Master key written to %s\n", path)
}
