// Command notebook-cli is a minimal demonstration of this module, replacing
// the teacher's grift task runner entry point with a client-facing demo:
// create a notebook, wait for it to initialize, list its root directory,
// and dispose the session. The notebook itself is not deleted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gobuffalo/envy"

	"github.com/johnjansen/notebooksdk"
)

func main() {
	envy.Load()

	token := envy.Get("NOTEBOOK_TOKEN", "")
	if token == "" {
		fmt.Fprintln(os.Stderr, "notebook-cli: NOTEBOOK_TOKEN must be set")
		os.Exit(1)
	}

	client, err := notebooksdk.New(notebooksdk.Config{Token: token})
	if err != nil {
		log.Fatalf("notebook-cli: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := client.Create(ctx)
	if err != nil {
		log.Fatalf("notebook-cli: create notebook: %v", err)
	}
	defer func() {
		if err := sess.Dispose(); err != nil {
			log.Printf("notebook-cli: dispose: %v", err)
		}
	}()

	entries, err := sess.FS.ReadDirectory(ctx, "/")
	if err != nil {
		log.Fatalf("notebook-cli: readDirectory: %v", err)
	}

	fmt.Printf("notebook ready, health=%s\n", sess.Health())
	for _, entry := range entries {
		kind := "dir"
		if entry.IsFile {
			kind = "file"
		}
		fmt.Printf("  %-6s %s\n", kind, entry.Path)
	}
}
