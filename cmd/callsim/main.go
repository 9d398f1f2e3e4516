// Command callsim replays call scripts against the call handler with a
// mock telephony SDK and virtual devices, printing what the application
// would see.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	verbose := flag.Bool("v", false, "Log handler activity to stderr")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: callsim [-v] script...")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if *verbose {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logger).WithField("name", "callsim")

	failed := false
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading script: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("== %s\n", path)
		res := Replay(data, log.WithField("script", path))
		for _, line := range res.Transcript {
			fmt.Println(line)
		}
		for _, err := range res.Failures {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}
