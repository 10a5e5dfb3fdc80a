package main

import (
	"flag"
	"os"

	"github.com/louisbranch/imrelay/internal/platform/config"
	"github.com/louisbranch/imrelay/internal/tools/imtoken"
)

func main() {
	cfg, err := imtoken.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := imtoken.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("im-token: %v", err)
	}
}
