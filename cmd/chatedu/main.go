// Command chatedu is the entry point for the educational chatbot backend.
// It ingests course PDFs into a vector index and serves chat, flashcard and
// mind-map generation over HTTP and MCP.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/54b3r/chatedu-go/cmd/chatedu/commands"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
