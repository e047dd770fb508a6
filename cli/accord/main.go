package main

import (
	"fmt"
	"os"

	accordcmder "github.com/papercomputeco/accord/cmd/accord"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/errs"
)

func main() {
	cmd := accordcmder.NewAccordCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cliui.FailMark, err)
		os.Exit(errs.ExitCode(err))
	}
}
