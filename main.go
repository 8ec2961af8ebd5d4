package main

import (
	"log/slog"
	"os"
	"os/signal"

	"github.com/kairos-io/go-tdlock/cmd"
)

func main() {
	// Allow catching SIGINT to exit soon
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, os.Interrupt)
		<-sigchan
		slog.Warn("Program killed !")
		os.Exit(1)
	}()

	cmd.Execute()
}
