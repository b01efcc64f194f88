package main

import (
	"os"

	"github.com/odyssey-erp/reviewdesk/cmd/deskctl/cli"
)

func main() {
	os.Exit(cli.Execute())
}
